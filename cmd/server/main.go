// Package main provides the API server entry point for the inventory import service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/inventory-importer/internal/api"
	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/circuitbreaker"
	"github.com/inventory-importer/internal/config"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/metrics"
	"github.com/inventory-importer/internal/ratelimit"
	"github.com/inventory-importer/internal/service"
	"github.com/inventory-importer/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	resolver, err := auth.NewSessionResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("Invalid auth configuration")
	}

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	limiter, err := ratelimit.NewRedisLimiter(redis.Client(), "ratelimit:")
	if err != nil {
		logger.WithError(err).Fatal("Failed to create rate limiter")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	refresher := storage.NewViewRefresher(postgres.Pool(), 5*time.Second, cfg.Cache.RefreshTimeout)
	if err := refresher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start view refresher")
	}
	defer refresher.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	breakerConfig := circuitbreaker.DefaultConfig("postgres-upsert")
	breakerConfig.IsFailure = apperrors.IsRetryable
	breaker := circuitbreaker.NewCircuitBreaker(breakerConfig)

	importService := service.NewImportService(service.NewImportConfig(&cfg.Import), service.Dependencies{
		Ledger:  storage.NewImportJobRepository(postgres.Pool()),
		Store:   storage.NewUpsertRepository(postgres.Pool()),
		Limiter: limiter,
		Cache:   storage.NewCacheService(redis, cfg.Cache.KeyPrefix),
		Views:   refresher,
		Audit:   storage.NewAuditRepository(postgres.Pool()),
		Metrics: metrics.New(registry),
		Breaker: breaker,
	})

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RequestsPerMin:  cfg.Server.RequestsPerMin,
	}
	checks := map[string]api.HealthChecker{
		"postgres": postgres,
		"redis":    redis,
		"upsert":   breaker,
	}
	server := api.NewServer(serverConfig, importService, resolver, checks, registry)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Imports in flight finish and finalize their ledger rows before the pools close
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	stop()

	logger.Info("Server exited")
}
