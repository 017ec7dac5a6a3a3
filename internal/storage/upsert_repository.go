package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/schema"
)

// UpsertRepository hands a slice of records to the destination's stored
// procedure as one jsonb payload. Each call is atomic on the database side.
type UpsertRepository struct {
	db DBTX
}

// NewUpsertRepository creates a new upsert repository
func NewUpsertRepository(db DBTX) *UpsertRepository {
	return &UpsertRepository{db: db}
}

// Upsert implements persist.Store
func (r *UpsertRepository) Upsert(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) error {
	if dest.Procedure == "" {
		return apperrors.NewInternalError("destination has no procedure", fmt.Errorf("import type %q", dest.Type))
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return apperrors.NewInternalError("failed to encode import payload", err)
	}

	query := fmt.Sprintf("SELECT %s($1::jsonb, $2::uuid, $3::uuid)", pgx.Identifier{dest.Procedure}.Sanitize())

	var affected int
	if err := r.db.QueryRow(ctx, query, payload, companyID, actorID).Scan(&affected); err != nil {
		return classifyWriteError(dest, err)
	}

	return nil
}

// classifyWriteError maps a driver error onto the categorized errors the
// persister understands. Constraint failures carry a message safe to show;
// connectivity failures stay retryable.
func classifyWriteError(dest destination.Destination, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperrors.NewDatabaseError(dest.Procedure, err)
	}

	switch pgErr.Code {
	case "23505":
		return apperrors.NewConstraintViolationError(
			fmt.Sprintf("a row conflicts with an existing %s record", dest.Type), err)
	case "21000":
		return apperrors.NewConstraintViolationError("the same key appears more than once in these rows", err)
	case "23503":
		return apperrors.NewConstraintViolationError("a referenced record does not exist", err)
	case "23502":
		return apperrors.NewConstraintViolationError("a required value is missing", err)
	case "23514", "22P02", "22003", "22007", "22008":
		return apperrors.NewConstraintViolationError("a value was rejected by the database", err)
	case "P0001":
		// raised by the procedures themselves with a caller-facing message
		return apperrors.NewConstraintViolationError(pgErr.Message, err)
	case "57014", "40001", "40P01":
		return apperrors.NewDatabaseError(dest.Procedure, err)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return apperrors.NewDatabaseError(dest.Procedure, err)
	}
	return apperrors.NewInternalError("destination write failed", err)
}
