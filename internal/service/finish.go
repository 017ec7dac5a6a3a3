package service

import (
	"context"
	"fmt"
	"time"

	"github.com/inventory-importer/internal/logging"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/persist"
	"github.com/inventory-importer/internal/types"
)

// terminalStatus derives the job status from the final counts
func terminalStatus(processed, errorCount int) types.JobStatus {
	switch {
	case errorCount == 0:
		return types.JobStatusCompleted
	case processed > 0:
		return types.JobStatusCompletedWithErrors
	default:
		return types.JobStatusFailed
	}
}

func (s *ImportService) summary(run *importRun, out persist.Outcome) *models.ImportSummary {
	return &models.ImportSummary{
		ImportType:     run.dest.Type,
		FileName:       run.req.FileName,
		Mode:           run.dest.Mode,
		TotalRows:      run.total,
		ValidRows:      len(run.valid),
		InvalidRows:    run.invalid,
		ProcessedRows:  out.Processed,
		FailedRows:     run.invalid + out.FailedRows,
		Batches:        out.Batches,
		FailedBatches:  out.FailedBatches,
		DurationMillis: time.Since(run.started).Milliseconds(),
	}
}

// terminalContext outlives the request so a cancelled import still gets its
// ledger row finalized
func (s *ImportService) terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.FinalizeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (s *ImportService) finishDryRun(ctx context.Context, run *importRun) *models.ImportResult {
	sum := s.summary(run, persist.Outcome{})
	msg := fmt.Sprintf("Dry run complete: %d of %d rows are valid and would be imported.", len(run.valid), run.total)
	if run.invalid > 0 {
		msg += fmt.Sprintf(" %d rows have errors.", run.invalid)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"totalRows": run.total,
		"validRows": len(run.valid),
	}).Info("Dry run complete")
	s.observe(run, "dry_run", 0)

	return &models.ImportResult{
		Success:        true,
		IsDryRun:       true,
		TotalRows:      run.total,
		ProcessedCount: len(run.valid),
		ErrorCount:     len(run.errors),
		Errors:         nonNil(run.errors),
		Summary:        sum,
		SummaryMessage: msg,
	}
}

func (s *ImportService) finishPersisted(ctx context.Context, run *importRun, out persist.Outcome) *models.ImportResult {
	logger := logging.FromContext(ctx)

	run.errors = append(run.errors, out.Errors...)
	status := terminalStatus(out.Processed, len(run.errors))
	sum := s.summary(run, out)

	tctx, cancel := s.terminalContext(ctx)
	defer cancel()

	completion := models.Completion{
		Status:        status,
		TotalRows:     run.total,
		ProcessedRows: out.Processed,
		FailedRows:    sum.FailedRows,
		Errors:        run.errors,
		Summary:       sum,
	}
	if err := s.deps.Ledger.Complete(tctx, run.jobID, completion); err != nil {
		logger.WithError(err).Error("Failed to complete import job")
	}

	if out.Processed > 0 && run.dest.AffectsAggregates {
		s.refreshAggregates(tctx, run.session.CompanyID)
	}
	s.audit(tctx, run, status, sum)

	logger.WithFields(map[string]interface{}{
		"status":        status,
		"totalRows":     run.total,
		"processedRows": out.Processed,
		"failedRows":    sum.FailedRows,
		"durationMs":    sum.DurationMillis,
	}).Info("Import finished")
	s.observe(run, string(status), out.Processed)
	s.deps.Metrics.AddBatches(string(run.dest.Type), out.Batches-out.FailedBatches, out.FailedBatches)

	return &models.ImportResult{
		Success:        true,
		ImportID:       run.jobID,
		Status:         status,
		TotalRows:      run.total,
		ProcessedCount: out.Processed,
		ErrorCount:     len(run.errors),
		Errors:         nonNil(run.errors),
		Summary:        sum,
		SummaryMessage: summaryMessage(status, out.Processed, run.total, sum.FailedRows),
	}
}

// finishFatal handles row cap overruns and unrecoverable decode errors. No
// destination call has been made at this point.
func (s *ImportService) finishFatal(ctx context.Context, run *importRun, cause error) *models.ImportResult {
	logger := logging.FromContext(ctx)
	catErr := s.streamError(run, cause)
	sum := s.summary(run, persist.Outcome{})

	if !run.req.DryRun {
		tctx, cancel := s.terminalContext(ctx)
		defer cancel()

		completion := models.Completion{
			TotalRows:  run.total,
			FailedRows: run.invalid,
			Errors:     run.errors,
			Summary:    sum,
		}
		if err := s.deps.Ledger.Fail(tctx, run.jobID, catErr.Message, completion); err != nil {
			logger.WithError(err).Error("Failed to mark import job failed")
		}
		s.audit(tctx, run, types.JobStatusFailed, sum)
	}

	logger.WithError(cause).WithField("code", catErr.Code).Warn("Import aborted")
	s.observe(run, string(types.JobStatusFailed), 0)

	return &models.ImportResult{
		Success:        false,
		IsDryRun:       run.req.DryRun,
		ImportID:       run.jobID,
		Status:         statusIfPersisted(run, types.JobStatusFailed),
		TotalRows:      run.total,
		ErrorCount:     len(run.errors),
		Errors:         nonNil(run.errors),
		Summary:        sum,
		SummaryMessage: catErr.Message,
		ErrorCode:      catErr.Code,
	}
}

// finishCancelled finalizes an import whose context ended. Batches already
// written stay written.
func (s *ImportService) finishCancelled(ctx context.Context, run *importRun, out persist.Outcome) *models.ImportResult {
	logger := logging.FromContext(ctx)
	run.errors = append(run.errors, out.Errors...)
	sum := s.summary(run, out)

	if !run.req.DryRun {
		tctx, cancel := s.terminalContext(ctx)
		defer cancel()

		completion := models.Completion{
			TotalRows:     run.total,
			ProcessedRows: out.Processed,
			FailedRows:    sum.FailedRows,
			Errors:        run.errors,
			Summary:       sum,
		}
		if err := s.deps.Ledger.Cancel(tctx, run.jobID, completion); err != nil {
			logger.WithError(err).Error("Failed to mark import job cancelled")
		}
		if out.Processed > 0 && run.dest.AffectsAggregates {
			s.refreshAggregates(tctx, run.session.CompanyID)
		}
		s.audit(tctx, run, types.JobStatusCancelled, sum)
	}

	logger.WithField("processedRows", out.Processed).Warn("Import cancelled")
	s.observe(run, string(types.JobStatusCancelled), out.Processed)

	return &models.ImportResult{
		Success:        false,
		IsDryRun:       run.req.DryRun,
		ImportID:       run.jobID,
		Status:         statusIfPersisted(run, types.JobStatusCancelled),
		TotalRows:      run.total,
		ProcessedCount: out.Processed,
		ErrorCount:     len(run.errors),
		Errors:         nonNil(run.errors),
		Summary:        sum,
		SummaryMessage: fmt.Sprintf("Import cancelled. %d rows were saved before it stopped.", out.Processed),
		ErrorCode:      "IMPORT_CANCELLED",
	}
}

// refreshAggregates invalidates cached dashboards and queues the view
// refresh. Failures are logged; the rows are already saved.
func (s *ImportService) refreshAggregates(ctx context.Context, companyID string) {
	logger := logging.FromContext(ctx)
	if s.deps.Cache != nil {
		removed, err := s.deps.Cache.InvalidateCompany(ctx, companyID)
		if err != nil {
			logger.WithError(err).Warn("Failed to invalidate company cache")
		} else {
			logger.WithField("keys", removed).Debug("Company cache invalidated")
		}
	}
	if s.deps.Views != nil {
		s.deps.Views.Schedule(companyID)
	}
}

func (s *ImportService) audit(ctx context.Context, run *importRun, status types.JobStatus, sum *models.ImportSummary) {
	if s.deps.Audit == nil {
		return
	}
	event := &models.AuditEvent{
		CompanyID:  run.session.CompanyID,
		ActorID:    run.session.ActorID,
		Action:     "import." + string(status),
		EntityType: "import_job",
		EntityID:   run.jobID,
		Metadata: map[string]interface{}{
			"importType":    string(run.dest.Type),
			"fileName":      run.req.FileName,
			"totalRows":     sum.TotalRows,
			"processedRows": sum.ProcessedRows,
			"failedRows":    sum.FailedRows,
		},
	}
	if err := s.deps.Audit.Record(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record audit event")
	}
}

func (s *ImportService) observe(run *importRun, status string, processed int) {
	importType := string(run.dest.Type)
	s.deps.Metrics.ObserveImport(importType, status, run.req.DryRun, time.Since(run.started))
	failed := 0
	if !run.req.DryRun {
		failed = len(run.valid) - processed
		if failed < 0 {
			failed = 0
		}
	}
	s.deps.Metrics.AddRows(importType, processed, run.invalid, failed)
}

func summaryMessage(status types.JobStatus, processed, total, failed int) string {
	switch status {
	case types.JobStatusCompleted:
		if total == 0 {
			return "The file contains no data rows."
		}
		return fmt.Sprintf("Successfully imported %d rows.", processed)
	case types.JobStatusCompletedWithErrors:
		return fmt.Sprintf("Imported %d of %d rows. %d rows failed.", processed, total, failed)
	default:
		return fmt.Sprintf("No rows were imported. %d rows failed.", failed)
	}
}

// statusIfPersisted reports a status only when a ledger entry exists
func statusIfPersisted(run *importRun, status types.JobStatus) types.JobStatus {
	if run.jobID == "" {
		return ""
	}
	return status
}

func nonNil(errs []models.RowError) []models.RowError {
	if errs == nil {
		return []models.RowError{}
	}
	return errs
}
