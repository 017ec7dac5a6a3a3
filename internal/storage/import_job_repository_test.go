package storage

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/types"
)

func newJobRow(id string, status types.JobStatus) []any {
	completed := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	return []any{
		id, "company-1", "inventory", "stock.csv", 3, 2, 1, string(status), "user-1",
		[]byte(`[{"row":3,"message":"quantity: must not be negative","data":{"sku":"B"}}]`),
		[]byte(`{"importType":"inventory","totalRows":3,"processedRows":2,"failedRows":1}`),
		(*string)(nil),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		&completed,
	}
}

func TestImportJobCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO import_jobs").
		WithArgs(pgxmock.AnyArg(), "company-1", "inventory", "stock.csv", 0, "processing", "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewImportJobRepository(mock)
	job := &models.ImportJob{CompanyID: "company-1", ImportType: types.ImportInventory, FileName: "stock.csv", CreatedBy: "user-1"}

	require.NoError(t, repo.Create(testContext(t), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusProcessing, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobCompleteOnlyOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	completion := models.Completion{
		Status:        types.JobStatusCompletedWithErrors,
		TotalRows:     10,
		ProcessedRows: 8,
		FailedRows:    2,
		Errors:        []models.RowError{{Row: 4, Message: "sku: is required"}},
	}

	mock.ExpectExec(`UPDATE import_jobs .* WHERE id = \$1 AND status = 'processing'`).
		WithArgs("job-1", "completed_with_errors", 10, 8, 2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE import_jobs`).
		WithArgs("job-1", "completed_with_errors", 10, 8, 2, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewImportJobRepository(mock)
	require.NoError(t, repo.Complete(testContext(t), "job-1", completion))
	assert.ErrorIs(t, repo.Complete(testContext(t), "job-1", completion), ErrJobFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobFinalizeRejectsBadCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewImportJobRepository(mock)

	err = repo.Complete(testContext(t), "job-1", models.Completion{Status: types.JobStatusCompleted, TotalRows: 2, ProcessedRows: 2, FailedRows: 1})
	assert.Error(t, err)

	err = repo.Complete(testContext(t), "job-1", models.Completion{Status: types.JobStatusProcessing})
	assert.Error(t, err)

	// nothing reached the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobFailAndCancelSetStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs("job-1", "failed", 0, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_jobs").
		WithArgs("job-2", "cancelled", 5, 2, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewImportJobRepository(mock)
	require.NoError(t, repo.Fail(testContext(t), "job-1", "the file could not be parsed", models.Completion{}))
	require.NoError(t, repo.Cancel(testContext(t), "job-2", models.Completion{TotalRows: 5, ProcessedRows: 2}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobGetByIDScopedToCompany(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .* FROM import_jobs WHERE company_id = \$1 AND id = \$2`).
		WithArgs("company-1", "job-1").
		WillReturnRows(pgxmock.NewRows(importJobColumns).AddRow(newJobRow("job-1", types.JobStatusCompletedWithErrors)...))
	mock.ExpectQuery(`SELECT .* FROM import_jobs WHERE company_id = \$1 AND id = \$2`).
		WithArgs("company-2", "job-1").
		WillReturnRows(pgxmock.NewRows(importJobColumns))

	repo := NewImportJobRepository(mock)

	job, err := repo.GetByID(testContext(t), "company-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.ImportInventory, job.ImportType)
	assert.Equal(t, types.JobStatusCompletedWithErrors, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, 3, job.Errors[0].Row)
	assert.Equal(t, "B", job.Errors[0].Data["sku"])
	require.NotNil(t, job.Summary)
	assert.Equal(t, 2, job.Summary.ProcessedRows)
	assert.Nil(t, job.FailureReason)
	require.NotNil(t, job.CompletedAt)

	_, err = repo.GetByID(testContext(t), "company-2", "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobListFiltersAndClampsLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM import_jobs WHERE company_id = \$1 AND status = \$2 AND import_type = \$3 ORDER BY created_at DESC LIMIT 100 OFFSET 40`).
		WithArgs("company-1", "failed", "suppliers").
		WillReturnRows(pgxmock.NewRows(importJobColumns).
			AddRow(newJobRow("job-2", types.JobStatusFailed)...).
			AddRow(newJobRow("job-1", types.JobStatusFailed)...))

	repo := NewImportJobRepository(mock)
	jobs, err := repo.List(testContext(t), "company-1", models.JobFilter{
		Status:     types.JobStatusFailed,
		ImportType: types.ImportSuppliers,
		Limit:      500,
		Offset:     40,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportJobListDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM import_jobs WHERE company_id = \$1 ORDER BY created_at DESC LIMIT 20 OFFSET 0`).
		WithArgs("company-1").
		WillReturnRows(pgxmock.NewRows(importJobColumns))

	repo := NewImportJobRepository(mock)
	jobs, err := repo.List(testContext(t), "company-1", models.JobFilter{Offset: -3})
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
