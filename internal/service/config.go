package service

import (
	"time"

	"github.com/inventory-importer/internal/config"
)

// ImportConfig holds the limits the orchestrator enforces. It is passed in
// explicitly so tests can override limits without touching the environment.
type ImportConfig struct {
	MaxFileSize int64
	MaxRows     int
	BatchSize   int
	PreviewRows int
	// BatchRetries is the number of attempts per destination call
	BatchRetries int
	RetryDelay   time.Duration
	RateLimit    int
	RateWindow   time.Duration
	AllowedMIME  []string
	// FinalizeTimeout bounds the ledger write made after the request context ended
	FinalizeTimeout time.Duration
}

// DefaultImportConfig returns the documented defaults
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		MaxFileSize:  10 * 1024 * 1024,
		MaxRows:      10000,
		BatchSize:    500,
		PreviewRows:  5,
		BatchRetries: 2,
		RetryDelay:   200 * time.Millisecond,
		RateLimit:    10,
		RateWindow:   time.Hour,
		AllowedMIME: []string{
			"text/csv",
			"text/plain",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		FinalizeTimeout: 10 * time.Second,
	}
}

// NewImportConfig builds the orchestrator limits from loaded configuration,
// keeping defaults for anything left at zero
func NewImportConfig(cfg *config.ImportConfig) ImportConfig {
	out := DefaultImportConfig()
	if cfg == nil {
		return out
	}
	if cfg.MaxFileSize > 0 {
		out.MaxFileSize = cfg.MaxFileSize
	}
	if cfg.MaxRows > 0 {
		out.MaxRows = cfg.MaxRows
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	if cfg.PreviewRows > 0 {
		out.PreviewRows = cfg.PreviewRows
	}
	if cfg.BatchRetries > 0 {
		out.BatchRetries = cfg.BatchRetries
	}
	if cfg.RateLimit > 0 {
		out.RateLimit = cfg.RateLimit
	}
	if cfg.RateWindow > 0 {
		out.RateWindow = cfg.RateWindow
	}
	if len(cfg.AllowedMIME) > 0 {
		out.AllowedMIME = cfg.AllowedMIME
	}
	return out
}
