package service

import (
	"context"
	"errors"

	"github.com/inventory-importer/internal/auth"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/storage"
	"github.com/inventory-importer/internal/types"
)

// GetJob returns one ledger entry of the caller's company
func (s *ImportService) GetJob(ctx context.Context, session auth.Session, id string) (*models.ImportJob, error) {
	if err := s.canRead(session); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperrors.NewInvalidParameterError("id", "is required")
	}

	job, err := s.deps.Ledger.GetByID(ctx, session.CompanyID, id)
	if errors.Is(err, storage.ErrJobNotFound) {
		return nil, apperrors.NewNotFoundError("import job", id)
	}
	if err != nil {
		return nil, apperrors.Categorize(err)
	}
	return job, nil
}

// ListJobs returns the caller's company imports, newest first
func (s *ImportService) ListJobs(ctx context.Context, session auth.Session, filter models.JobFilter) ([]*models.ImportJob, error) {
	if err := s.canRead(session); err != nil {
		return nil, err
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, apperrors.NewInvalidParameterError("status", "is not a known import status")
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, apperrors.NewInvalidParameterError("limit", "must not be negative")
	}

	jobs, err := s.deps.Ledger.List(ctx, session.CompanyID, filter)
	if err != nil {
		return nil, apperrors.Categorize(err)
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}
	return jobs, nil
}

// canRead allows any signed-in member to read the ledger of their company
func (s *ImportService) canRead(session auth.Session) error {
	if session.ActorID == "" || session.CompanyID == "" {
		return apperrors.NewUnauthorizedError("Please sign in to view imports.")
	}
	if s.deps.Ledger == nil {
		return apperrors.NewInternalError("Import history is not available right now.", errors.New("ledger not configured"))
	}
	return nil
}

func validStatus(s types.JobStatus) bool {
	switch s {
	case types.JobStatusProcessing, types.JobStatusCompleted, types.JobStatusCompletedWithErrors,
		types.JobStatusFailed, types.JobStatusCancelled:
		return true
	}
	return false
}
