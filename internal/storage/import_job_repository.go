package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/types"
)

var (
	// ErrJobNotFound is returned when no job matches the id and company
	ErrJobNotFound = errors.New("import job not found")
	// ErrJobFinalized is returned when a terminal write targets a job that already left processing
	ErrJobFinalized = errors.New("import job is already finalized")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var importJobColumns = []string{
	"id", "company_id", "import_type", "file_name", "total_rows", "processed_rows",
	"failed_rows", "status", "created_by", "errors", "summary", "failure_reason",
	"created_at", "completed_at",
}

// ImportJobRepository persists the import ledger
type ImportJobRepository struct {
	db DBTX
}

// NewImportJobRepository creates a new import job repository
func NewImportJobRepository(db DBTX) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

// Create inserts a job in processing state and fills in its id and timestamps
func (r *ImportJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = types.JobStatusProcessing
	job.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO import_jobs (id, company_id, import_type, file_name, total_rows, processed_rows, failed_rows, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		job.ID,
		job.CompanyID,
		string(job.ImportType),
		job.FileName,
		job.TotalRows,
		string(job.Status),
		job.CreatedBy,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}

	return nil
}

// Complete writes the terminal counts of a job. It only succeeds once.
func (r *ImportJobRepository) Complete(ctx context.Context, id string, c models.Completion) error {
	return r.finalize(ctx, id, c, nil)
}

// Fail marks a job failed after a fatal stream error
func (r *ImportJobRepository) Fail(ctx context.Context, id, reason string, c models.Completion) error {
	c.Status = types.JobStatusFailed
	return r.finalize(ctx, id, c, &reason)
}

// Cancel marks a job cancelled with whatever counts were reached
func (r *ImportJobRepository) Cancel(ctx context.Context, id string, c models.Completion) error {
	c.Status = types.JobStatusCancelled
	reason := "import cancelled before completion"
	return r.finalize(ctx, id, c, &reason)
}

func (r *ImportJobRepository) finalize(ctx context.Context, id string, c models.Completion, reason *string) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("invalid terminal status %q", c.Status)
	}
	if c.ProcessedRows+c.FailedRows > c.TotalRows {
		return fmt.Errorf("processed (%d) plus failed (%d) exceeds total (%d)", c.ProcessedRows, c.FailedRows, c.TotalRows)
	}

	errorsJSON, err := json.Marshal(nonNilErrors(c.Errors))
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	var summaryJSON []byte
	if c.Summary != nil {
		summaryJSON, err = json.Marshal(c.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
	}

	query := `
		UPDATE import_jobs
		SET status = $2, total_rows = $3, processed_rows = $4, failed_rows = $5,
		    errors = $6, summary = $7, failure_reason = $8, completed_at = $9
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.db.Exec(ctx, query,
		id,
		string(c.Status),
		c.TotalRows,
		c.ProcessedRows,
		c.FailedRows,
		errorsJSON,
		summaryJSON,
		reason,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobFinalized
	}

	return nil
}

// GetByID returns a job of the given company
func (r *ImportJobRepository) GetByID(ctx context.Context, companyID, id string) (*models.ImportJob, error) {
	query, args, err := psql.Select(importJobColumns...).
		From("import_jobs").
		Where(squirrel.Eq{"id": id, "company_id": companyID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	job, err := scanImportJob(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}

	return job, nil
}

// List returns the company's jobs, newest first
func (r *ImportJobRepository) List(ctx context.Context, companyID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := psql.Select(importJobColumns...).
		From("import_jobs").
		Where(squirrel.Eq{"company_id": companyID})
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.ImportType != "" {
		q = q.Where(squirrel.Eq{"import_type": string(filter.ImportType)})
	}
	query, args, err := q.OrderBy("created_at DESC").
		Limit(uint64(limit)).   // #nosec G115 - bounded above
		Offset(uint64(offset)). // #nosec G115 - non-negative
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ImportJob, 0)
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import jobs: %w", err)
	}

	return jobs, nil
}

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var (
		job         models.ImportJob
		importType  string
		status      string
		errorsJSON  []byte
		summaryJSON []byte
	)

	err := row.Scan(
		&job.ID,
		&job.CompanyID,
		&importType,
		&job.FileName,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.FailedRows,
		&status,
		&job.CreatedBy,
		&errorsJSON,
		&summaryJSON,
		&job.FailureReason,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ImportType = types.ImportType(importType)
	job.Status = types.JobStatus(status)

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		job.Summary = &models.ImportSummary{}
		if err := json.Unmarshal(summaryJSON, job.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}

	return &job, nil
}

func nonNilErrors(errs []models.RowError) []models.RowError {
	if errs == nil {
		return []models.RowError{}
	}
	return errs
}
