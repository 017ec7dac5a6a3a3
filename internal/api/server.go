// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/service"
)

// ImportServiceInterface is the part of the import service the handlers use
type ImportServiceInterface interface {
	Import(ctx context.Context, session auth.Session, req service.ImportRequest) *models.ImportResult
	Preview(ctx context.Context, session auth.Session, req service.PreviewRequest) (*service.PreviewResponse, error)
	GetJob(ctx context.Context, session auth.Session, id string) (*models.ImportJob, error)
	ListJobs(ctx context.Context, session auth.Session, filter models.JobFilter) ([]*models.ImportJob, error)
	ImportTypes() []service.ImportTypeInfo
	Config() service.ImportConfig
}

// SessionResolverInterface turns a request into a session
type SessionResolverInterface interface {
	ResolveRequest(r *http.Request) (auth.Session, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	imports    ImportServiceInterface
	sessions   SessionResolverInterface
	checks     map[string]HealthChecker
	gatherer   prometheus.Gatherer
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// RequestsPerMin is the per-client request budget across every route
	RequestsPerMin int
	// MaxBodySize caps request bodies; multipart overhead is added on top of the file limit
	MaxBodySize int64
}

// NewServer creates a new API server instance. checks are pinged by
// /health; gatherer backs /metrics and may be nil.
func NewServer(
	config *ServerConfig,
	imports ImportServiceInterface,
	sessions SessionResolverInterface,
	checks map[string]HealthChecker,
	gatherer prometheus.Gatherer,
) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   mux.NewRouter(),
		imports:  imports,
		sessions: sessions,
		checks:   checks,
		gatherer: gatherer,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	throttle := NewClientThrottle(s.config.RequestsPerMin, 10*time.Minute)

	// Order matters: sessions are resolved before the throttle keys on them
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	s.router.Use(SessionMiddleware(s.sessions))
	s.router.Use(ThrottleMiddleware(throttle))
	s.router.Use(BodyLimitMiddleware(s.maxBodySize()))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/import-types", s.handleImportTypes).Methods("GET")
	api.HandleFunc("/imports", s.handleImport).Methods("POST")
	api.HandleFunc("/imports", s.handleListImports).Methods("GET")
	api.HandleFunc("/imports/preview", s.handlePreview).Methods("POST")
	api.HandleFunc("/imports/{id}", s.handleGetImport).Methods("GET")

	// Preflight requests only need the CORS headers
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) maxBodySize() int64 {
	if s.config.MaxBodySize > 0 {
		return s.config.MaxBodySize
	}
	return s.imports.Config().MaxFileSize + multipartOverhead
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("component", name).Warn("Health check failed")
			components[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":     overall,
		"service":    "inventory-importer",
		"components": components,
	})
}

// Handler returns the root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
