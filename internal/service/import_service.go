// Package service orchestrates bulk imports: request checks, streaming
// validation, persistence and the import ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/circuitbreaker"
	"github.com/inventory-importer/internal/decoder"
	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/mapping"
	"github.com/inventory-importer/internal/metrics"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/persist"
	"github.com/inventory-importer/internal/ratelimit"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/types"
)

// JobLedger persists one entry per non-dry-run import
type JobLedger interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Complete(ctx context.Context, id string, c models.Completion) error
	Fail(ctx context.Context, id, reason string, c models.Completion) error
	Cancel(ctx context.Context, id string, c models.Completion) error
	GetByID(ctx context.Context, companyID, id string) (*models.ImportJob, error)
	List(ctx context.Context, companyID string, filter models.JobFilter) ([]*models.ImportJob, error)
}

// QuotaLimiter consumes import quota
type QuotaLimiter interface {
	CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error)
}

// CacheInvalidator drops a company's cached aggregates
type CacheInvalidator interface {
	InvalidateCompany(ctx context.Context, companyID string) (int, error)
}

// ViewScheduler queues a materialized view refresh
type ViewScheduler interface {
	Schedule(companyID string)
}

// AuditRecorder writes audit events
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// Dependencies are the collaborators of ImportService. Everything except
// Ledger and Store may be nil; dry runs need neither.
type Dependencies struct {
	Ledger  JobLedger
	Store   persist.Store
	Limiter QuotaLimiter
	Cache   CacheInvalidator
	Views   ViewScheduler
	Audit   AuditRecorder
	Metrics *metrics.Metrics
	// Breaker guards Store calls across concurrent imports
	Breaker *circuitbreaker.CircuitBreaker
}

// ImportRequest is one upload as received by the transport
type ImportRequest struct {
	File       io.Reader
	FileName   string
	FileSize   int64
	ImportType string
	// Mapping is the JSON header to field table, empty for pass-through
	Mapping   string
	DryRun    bool
	CSRFToken string
}

// ImportService runs the import pipeline
type ImportService struct {
	cfg       ImportConfig
	deps      Dependencies
	persister *persist.Persister
}

// NewImportService creates a new import service
func NewImportService(cfg ImportConfig, deps Dependencies) *ImportService {
	var persister *persist.Persister
	if deps.Store != nil {
		persister = persist.New(deps.Store, persist.Config{
			BatchSize:    cfg.BatchSize,
			Attempts:     cfg.BatchRetries,
			InitialDelay: cfg.RetryDelay,
			Breaker:      deps.Breaker,
		})
	}
	return &ImportService{cfg: cfg, deps: deps, persister: persister}
}

// Config returns the limits in effect
func (s *ImportService) Config() ImportConfig {
	return s.cfg
}

// importRun carries the state of one pipeline run
type importRun struct {
	session auth.Session
	req     ImportRequest
	dest    destination.Destination
	schema  *schema.Schema
	mapping mapping.FieldMapping
	upload  *upload
	started time.Time

	jobID   string
	valid   []schema.Record
	errors  []models.RowError
	invalid int
	total   int
}

// Import validates the request, streams the file and persists valid rows.
// It always returns a result; request problems come back with Success false
// and an ErrorCode, never as a Go error.
func (s *ImportService) Import(ctx context.Context, session auth.Session, req ImportRequest) *models.ImportResult {
	run := &importRun{session: session, req: req, started: time.Now()}
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"companyId":  session.CompanyID,
		"actorId":    session.ActorID,
		"importType": req.ImportType,
		"fileName":   req.FileName,
		"dryRun":     req.DryRun,
	})
	ctx = logging.WithLogger(ctx, logger)

	if catErr := s.validateRequest(ctx, run); catErr != nil {
		logger.WithField("code", catErr.Code).Info("Import request rejected")
		s.deps.Metrics.Rejected(catErr.Code)
		return rejected(req.DryRun, catErr)
	}
	if !req.DryRun && (s.deps.Ledger == nil || s.persister == nil) {
		catErr := apperrors.NewInternalError("Imports are not available right now.", errors.New("ledger or store not configured"))
		logger.WithError(catErr).Error("Import service is missing collaborators")
		return rejected(req.DryRun, catErr)
	}

	stream, err := decoder.Open(run.upload.format, run.upload.body, decoder.Options{MaxRows: s.cfg.MaxRows})
	if err != nil {
		catErr := s.streamError(run, err)
		logger.WithError(err).Info("Import file could not be opened")
		s.deps.Metrics.Rejected(catErr.Code)
		return rejected(req.DryRun, catErr)
	}
	defer func() {
		_ = stream.Close()
	}()

	if !req.DryRun {
		job := &models.ImportJob{
			CompanyID:  session.CompanyID,
			ImportType: run.dest.Type,
			FileName:   req.FileName,
			CreatedBy:  session.ActorID,
		}
		if err := s.deps.Ledger.Create(ctx, job); err != nil {
			logger.WithError(err).Error("Failed to create import job")
			return rejected(req.DryRun, apperrors.NewInternalError("The import could not be started. Please try again.", err))
		}
		run.jobID = job.ID
		logger = logger.WithField("importId", job.ID)
		ctx = logging.WithLogger(ctx, logger)
	}

	cancelled, fatal := s.consume(ctx, run, stream)
	switch {
	case fatal != nil:
		return s.finishFatal(ctx, run, fatal)
	case cancelled:
		return s.finishCancelled(ctx, run, persist.Outcome{})
	case req.DryRun:
		return s.finishDryRun(ctx, run)
	}

	outcome := s.persister.Persist(ctx, run.dest, run.valid, session.CompanyID, session.ActorID)
	if outcome.Cancelled {
		return s.finishCancelled(ctx, run, outcome)
	}
	return s.finishPersisted(ctx, run, outcome)
}

// validateRequest runs the request checks in order; the first failure wins
func (s *ImportService) validateRequest(ctx context.Context, run *importRun) *apperrors.CategorizedError {
	session, req := run.session, run.req

	if session.ActorID == "" || session.CompanyID == "" {
		return apperrors.NewUnauthorizedError("Please sign in to import data.")
	}
	if !session.Role.CanImport() {
		return apperrors.NewForbiddenError("Only owners and admins can import data.")
	}
	if !auth.VerifyCSRF(session, req.CSRFToken) {
		return apperrors.NewInvalidCSRFError()
	}
	if catErr := s.checkQuota(ctx, session); catErr != nil {
		return catErr
	}

	up, catErr := inspectUpload(req.File, req.FileName, req.FileSize, s.cfg)
	if catErr != nil {
		return catErr
	}
	run.upload = up

	importType, err := types.ParseImportType(req.ImportType)
	if err != nil {
		return apperrors.NewInvalidParameterError("importType", "must be one of the supported import types")
	}
	dest, err := destination.Lookup(importType)
	if err != nil {
		return apperrors.NewInvalidParameterError("importType", err.Error())
	}
	sch, err := schema.ForType(importType)
	if err != nil {
		return apperrors.NewInvalidParameterError("importType", err.Error())
	}
	run.dest, run.schema = dest, sch

	m, err := mapping.ParseMapping(req.Mapping)
	if err != nil {
		return apperrors.NewInvalidParameterError("mapping", err.Error())
	}
	if err := m.Validate(sch.FieldNames()); err != nil {
		return apperrors.NewInvalidParameterError("mapping", err.Error())
	}
	run.mapping = m

	return nil
}

// checkQuota consumes one import from the caller's quota. Dry runs count too.
func (s *ImportService) checkQuota(ctx context.Context, session auth.Session) *apperrors.CategorizedError {
	if s.deps.Limiter == nil {
		return nil
	}
	key := fmt.Sprintf("import:%s:%s", session.CompanyID, session.ActorID)
	decision, err := s.deps.Limiter.CheckAndConsume(ctx, key, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Rate limiter unavailable, rejecting import")
	}
	if err != nil || decision.Limited {
		retryAfter := int(decision.RetryAfter.Round(time.Second) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return apperrors.NewRateLimitError(retryAfter)
	}
	return nil
}

// consume makes the single forward pass over the file. It returns a fatal
// error for row cap overruns and unrecoverable decode errors.
func (s *ImportService) consume(ctx context.Context, run *importRun, stream decoder.Stream) (cancelled bool, fatal error) {
	defer func() {
		run.total = stream.Rows()
	}()

	for {
		if ctx.Err() != nil {
			return true, nil
		}

		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		if row.Err != nil {
			run.invalid++
			run.errors = append(run.errors, models.RowError{Row: row.Number, Message: row.Err.Error(), Data: row.Values})
			continue
		}

		record, err := run.schema.Validate(mapping.Remap(row.Values, run.mapping), run.session.CompanyID)
		if err != nil {
			run.invalid++
			run.errors = append(run.errors, models.RowError{Row: row.Number, Message: err.Error(), Data: row.Values})
			continue
		}
		run.valid = append(run.valid, record)
	}
}

// streamError maps decoder failures onto user-facing errors
func (s *ImportService) streamError(run *importRun, err error) *apperrors.CategorizedError {
	switch {
	case run.upload.limiter.exceeded, errors.Is(err, errFileTooLarge):
		return apperrors.NewFileTooLargeError(run.upload.limiter.read, s.cfg.MaxFileSize)
	case errors.Is(err, decoder.ErrRowCapExceeded):
		return apperrors.NewRowCapExceededError(s.cfg.MaxRows)
	case errors.Is(err, decoder.ErrNoHeader):
		return apperrors.NewFileStructureError("The file has no header row.", err)
	case errors.Is(err, decoder.ErrDuplicateHeader):
		return apperrors.NewFileStructureError("The file has two columns with the same header.", err)
	default:
		return apperrors.NewMalformedFileError(err)
	}
}

func rejected(dryRun bool, catErr *apperrors.CategorizedError) *models.ImportResult {
	res := &models.ImportResult{
		Success:        false,
		IsDryRun:       dryRun,
		Errors:         []models.RowError{},
		SummaryMessage: apperrors.UserMessage(catErr),
		ErrorCode:      catErr.Code,
	}
	if retryAfter, ok := catErr.Details["retryAfter"].(int); ok {
		res.RetryAfter = retryAfter
	}
	return res
}
