package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("IMPORT_BATCH_SIZE", "250")
	t.Setenv("IMPORT_RATE_WINDOW", "30m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Import.BatchSize != 250 {
		t.Errorf("Import.BatchSize = %v, want %v", cfg.Import.BatchSize, 250)
	}
	if cfg.Import.RateWindow != 30*time.Minute {
		t.Errorf("Import.RateWindow = %v, want %v", cfg.Import.RateWindow, 30*time.Minute)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Import.MaxFileSize != 10*1024*1024 {
		t.Errorf("Import.MaxFileSize = %d, want 10MB", cfg.Import.MaxFileSize)
	}
	if cfg.Import.MaxRows != 10000 {
		t.Errorf("Import.MaxRows = %d, want 10000", cfg.Import.MaxRows)
	}
	if cfg.Import.BatchSize != 500 {
		t.Errorf("Import.BatchSize = %d, want 500", cfg.Import.BatchSize)
	}
	if cfg.Import.BatchRetries != 2 {
		t.Errorf("Import.BatchRetries = %d, want 2", cfg.Import.BatchRetries)
	}
	if len(cfg.Import.AllowedMIME) != 3 {
		t.Errorf("Import.AllowedMIME = %v, want 3 entries", cfg.Import.AllowedMIME)
	}
}

func TestLoadConfigRejectsInvalidLimits(t *testing.T) {
	t.Setenv("IMPORT_MAX_ROWS", "-1")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for negative IMPORT_MAX_ROWS")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		want         int
	}{
		{"parses integer", "42", 10, 42},
		{"falls back on invalid", "not-a-number", 10, 10},
		{"falls back when unset", "", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_INT_KEY", tt.envValue)
			}
			if got := getEnvAsInt("TEST_INT_KEY", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("TEST_LIST_KEY", " text/csv , ,application/json")

	got := getEnvAsList("TEST_LIST_KEY", nil)
	if len(got) != 2 || got[0] != "text/csv" || got[1] != "application/json" {
		t.Errorf("getEnvAsList() = %v", got)
	}

	if got := getEnvAsList("UNSET_LIST_KEY", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("getEnvAsList() default = %v", got)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "inv", User: "u", Password: "p", SSLMode: "disable"}
	want := "postgres://u:p@db:5432/inv?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}
