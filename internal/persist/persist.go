// Package persist submits validated records to their destination, either in
// independent batches or as one all-or-nothing call.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inventory-importer/internal/circuitbreaker"
	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/retry"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/types"
)

// DefaultBatchSize is used when Config.BatchSize is zero
const DefaultBatchSize = 500

// Store performs one atomic upsert call against a destination
type Store interface {
	Upsert(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) error
}

// Config tunes the persister
type Config struct {
	BatchSize int
	// Attempts is the number of tries per call, including the first
	Attempts     int
	InitialDelay time.Duration
	// Breaker is shared across imports; while open, calls fail without reaching the store
	Breaker *circuitbreaker.CircuitBreaker
}

// Outcome summarizes one Persist call
type Outcome struct {
	Processed     int
	FailedRows    int
	Batches       int
	FailedBatches int
	// Cancelled is set when the context ended before every batch was attempted
	Cancelled bool
	Errors    []models.RowError
}

// Persister writes validated records through a Store
type Persister struct {
	store Store
	cfg   Config
}

// New creates a Persister
func New(store Store, cfg Config) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	return &Persister{store: store, cfg: cfg}
}

// Persist writes records to dest using the destination's mode. No call is
// made for an empty record set.
func (p *Persister) Persist(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) Outcome {
	if len(records) == 0 {
		return Outcome{}
	}
	if dest.Mode == types.PersistTransactional {
		return p.persistAll(ctx, dest, records, companyID, actorID)
	}
	return p.persistBatched(ctx, dest, records, companyID, actorID)
}

func (p *Persister) persistBatched(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) Outcome {
	logger := logging.FromContext(ctx).WithField("procedure", dest.Procedure)
	batches := Partition(records, p.cfg.BatchSize)

	var out Outcome
	for i, batch := range batches {
		if ctx.Err() != nil {
			out.Cancelled = true
			break
		}

		out.Batches++
		if err := p.call(ctx, dest, batch, companyID, actorID); err != nil {
			out.FailedBatches++
			out.FailedRows += len(batch)
			out.Errors = append(out.Errors, models.RowError{
				Row:     models.BatchErrorRow,
				Message: fmt.Sprintf("Batch %d of %d (%d rows) failed: %s", i+1, len(batches), len(batch), reason(err)),
			})
			logger.WithFields(map[string]interface{}{
				"batch":     i + 1,
				"batchRows": len(batch),
			}).WithError(err).Warn("Import batch failed")
			continue
		}
		out.Processed += len(batch)
	}
	return out
}

func (p *Persister) persistAll(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) Outcome {
	out := Outcome{Batches: 1}
	if err := p.call(ctx, dest, records, companyID, actorID); err != nil {
		logging.FromContext(ctx).
			WithField("procedure", dest.Procedure).
			WithField("rows", len(records)).
			WithError(err).
			Warn("Transactional import rolled back")
		out.FailedBatches = 1
		out.FailedRows = len(records)
		out.Errors = []models.RowError{{
			Row:     models.BatchErrorRow,
			Message: fmt.Sprintf("Import rolled back, no rows were saved: %s", reason(err)),
		}}
		return out
	}
	out.Processed = len(records)
	return out
}

// call runs one upsert, retrying transient failures. Every procedure upserts
// on its conflict key so a repeated call after a lost response is harmless.
func (p *Persister) call(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) error {
	cfg := &retry.RetryConfig{
		MaxAttempts:  p.cfg.Attempts,
		InitialDelay: p.cfg.InitialDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  func(err error) bool {
			return apperrors.IsRetryable(err) && !errors.Is(err, circuitbreaker.ErrCircuitOpen)
		},
	}
	return retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		return p.cfg.Breaker.Execute(ctx, func(ctx context.Context) error {
			return p.store.Upsert(ctx, dest, records, companyID, actorID)
		})
	})
}

// reason converts a store error into text that is safe to return
func reason(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return "the database is temporarily unavailable, please try again later"
	}
	if apperrors.IsUserError(err) {
		return apperrors.UserMessage(err)
	}
	return "the database could not save these rows, please try again"
}

// Partition splits records into consecutive slices of at most size elements
func Partition(records []schema.Record, size int) [][]schema.Record {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]schema.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
