package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/auth"
	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/metrics"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/ratelimit"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/storage"
	"github.com/inventory-importer/internal/types"
)

type fakeLedger struct {
	mu        sync.Mutex
	jobs      map[string]*models.ImportJob
	created   int
	completed []models.Completion
	failed    []string
	cancelled int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{jobs: make(map[string]*models.ImportJob)}
}

func (f *fakeLedger) Create(ctx context.Context, job *models.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.NewString()
	job.Status = types.JobStatusProcessing
	f.jobs[job.ID] = job
	f.created++
	return nil
}

func (f *fakeLedger) finish(id string, c models.Completion) {
	job := f.jobs[id]
	job.Status = c.Status
	job.TotalRows = c.TotalRows
	job.ProcessedRows = c.ProcessedRows
	job.FailedRows = c.FailedRows
	job.Errors = c.Errors
}

func (f *fakeLedger) Complete(ctx context.Context, id string, c models.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, c)
	f.finish(id, c)
	return nil
}

func (f *fakeLedger) Fail(ctx context.Context, id, reason string, c models.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
	c.Status = types.JobStatusFailed
	f.finish(id, c)
	return nil
}

func (f *fakeLedger) Cancel(ctx context.Context, id string, c models.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	c.Status = types.JobStatusCancelled
	f.finish(id, c)
	return nil
}

func (f *fakeLedger) GetByID(ctx context.Context, companyID, id string) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.CompanyID != companyID {
		return nil, storage.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeLedger) List(ctx context.Context, companyID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ImportJob
	for _, job := range f.jobs {
		if job.CompanyID == companyID {
			out = append(out, job)
		}
	}
	return out, nil
}

// fakeStore fails the calls listed in failOn (1-based) and can cancel the
// request context after a given call
type fakeStore struct {
	mu          sync.Mutex
	calls       [][]schema.Record
	failOn      map[int]error
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeStore) Upsert(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, records)
	if f.cancel != nil && len(f.calls) == f.cancelAfter {
		f.cancel()
	}
	if err, ok := f.failOn[len(f.calls)]; ok {
		return err
	}
	return nil
}

func (f *fakeStore) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

type fakeLimiter struct {
	limited bool
	err     error
	keys    []string
}

func (f *fakeLimiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return ratelimit.Decision{Limited: true, RetryAfter: window}, f.err
	}
	if f.limited {
		return ratelimit.Decision{Limited: true, RetryAfter: 90 * time.Second}, nil
	}
	return ratelimit.Decision{Remaining: limit - 1}, nil
}

type fakeCache struct{ companies []string }

func (f *fakeCache) InvalidateCompany(ctx context.Context, companyID string) (int, error) {
	f.companies = append(f.companies, companyID)
	return 3, nil
}

type fakeViews struct{ scheduled []string }

func (f *fakeViews) Schedule(companyID string) { f.scheduled = append(f.scheduled, companyID) }

type fakeAudit struct{ events []*models.AuditEvent }

func (f *fakeAudit) Record(ctx context.Context, event *models.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

type harness struct {
	svc     *ImportService
	ledger  *fakeLedger
	store   *fakeStore
	limiter *fakeLimiter
	cache   *fakeCache
	views   *fakeViews
	audit   *fakeAudit
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, mutate func(*ImportConfig)) *harness {
	t.Helper()
	cfg := DefaultImportConfig()
	cfg.BatchSize = 2
	cfg.RetryDelay = time.Millisecond
	cfg.BatchRetries = 1
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		ledger:  newFakeLedger(),
		store:   &fakeStore{},
		limiter: &fakeLimiter{},
		cache:   &fakeCache{},
		views:   &fakeViews{},
		audit:   &fakeAudit{},
		reg:     prometheus.NewRegistry(),
	}
	h.svc = NewImportService(cfg, Dependencies{
		Ledger:  h.ledger,
		Store:   h.store,
		Limiter: h.limiter,
		Cache:   h.cache,
		Views:   h.views,
		Audit:   h.audit,
		Metrics: metrics.New(h.reg),
	})
	return h
}

func ownerSession() auth.Session {
	return auth.Session{ActorID: "user-1", CompanyID: "company-1", Role: types.RoleOwner, CSRFToken: "csrf-token"}
}

func csvRequest(importType, body string) ImportRequest {
	return ImportRequest{
		File:       strings.NewReader(body),
		FileName:   "upload.csv",
		FileSize:   int64(len(body)),
		ImportType: importType,
		CSRFToken:  "csrf-token",
	}
}

func inventoryCSV(n int) string {
	var b strings.Builder
	b.WriteString("sku,name,quantity\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "SKU-%d,Widget %d,%d\n", i, i, i+1)
	}
	return b.String()
}

func TestImportAllValidRows(t *testing.T) {
	h := newHarness(t, nil)

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(5)))

	require.True(t, res.Success, res.SummaryMessage)
	assert.Equal(t, types.JobStatusCompleted, res.Status)
	assert.Equal(t, 5, res.TotalRows)
	assert.Equal(t, 5, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.NotNil(t, res.Errors)
	assert.Equal(t, "Successfully imported 5 rows.", res.SummaryMessage)
	assert.NotEmpty(t, res.ImportID)

	assert.Len(t, h.store.calls, 3)
	require.Len(t, h.ledger.completed, 1)
	assert.Equal(t, types.JobStatusCompleted, h.ledger.completed[0].Status)
	assert.Equal(t, []string{"company-1"}, h.cache.companies)
	assert.Equal(t, []string{"company-1"}, h.views.scheduled)
	require.Len(t, h.audit.events, 1)
	assert.Equal(t, "import.completed", h.audit.events[0].Action)
	assert.Equal(t, res.ImportID, h.audit.events[0].EntityID)
	assert.Equal(t, []string{"import:company-1:user-1"}, h.limiter.keys)
}

func TestImportRowNumbersStartAfterHeader(t *testing.T) {
	h := newHarness(t, nil)
	body := "sku,name,quantity\nA,Alpha,1\n,Missing sku,2\nC,Gamma,-1\n"

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", body))

	require.True(t, res.Success)
	assert.Equal(t, types.JobStatusCompletedWithErrors, res.Status)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 1, res.ProcessedCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "sku")
	assert.Equal(t, "Missing sku", res.Errors[0].Data["name"])
	assert.Equal(t, 4, res.Errors[1].Row)
	assert.Contains(t, res.Errors[1].Message, "quantity")
	assert.Equal(t, "Imported 1 of 3 rows. 2 rows failed.", res.SummaryMessage)
}

func TestImportAllInvalidSkipsStore(t *testing.T) {
	h := newHarness(t, nil)
	body := "sku,name,quantity\nA,,1\nB,,2\n"

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", body))

	assert.True(t, res.Success)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Equal(t, 0, res.ProcessedCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Empty(t, h.store.calls)
	assert.Empty(t, h.cache.companies)
	assert.Empty(t, h.views.scheduled)
	assert.Equal(t, "No rows were imported. 2 rows failed.", res.SummaryMessage)
}

func TestImportDryRunWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	req := csvRequest("inventory", "sku,name,quantity\nA,Alpha,1\nB,,2\nC,Gamma,3\n")
	req.DryRun = true

	res := h.svc.Import(context.Background(), ownerSession(), req)

	require.True(t, res.Success)
	assert.True(t, res.IsDryRun)
	assert.Empty(t, res.ImportID)
	assert.Empty(t, res.Status)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Contains(t, res.SummaryMessage, "2 of 3 rows are valid")

	assert.Zero(t, h.ledger.created)
	assert.Empty(t, h.store.calls)
	assert.Empty(t, h.cache.companies)
	assert.Empty(t, h.audit.events)
	// dry runs still consume quota
	assert.Len(t, h.limiter.keys, 1)
}

func TestImportBatchFailureIsolation(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failOn = map[int]error{
		2: apperrors.NewConstraintViolationError("a referenced record does not exist", nil),
	}

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(6)))

	require.True(t, res.Success)
	assert.Equal(t, types.JobStatusCompletedWithErrors, res.Status)
	assert.Equal(t, 4, res.ProcessedCount)
	assert.Equal(t, 6, res.TotalRows)
	assert.Len(t, h.store.calls, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, models.BatchErrorRow, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Message, "Batch 2 of 3")
	assert.Equal(t, 2, res.Summary.FailedRows)
	assert.Equal(t, 1, res.Summary.FailedBatches)

	job, err := h.svc.GetJob(context.Background(), ownerSession(), res.ImportID)
	require.NoError(t, err)
	assert.Equal(t, 4, job.ProcessedRows)
	assert.Equal(t, 2, job.FailedRows)
}

func TestImportTransactionalRollback(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failOn = map[int]error{
		1: apperrors.NewConstraintViolationError("supplier \"Acme\" does not exist", nil),
	}
	body := "sku,cost,supplier_name\nA,1.50,Acme\nB,2.00,Acme\nC,3.00,Acme\n"

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("product-costs", body))

	require.True(t, res.Success)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.Equal(t, 0, res.ProcessedCount)
	require.Len(t, h.store.calls, 1)
	assert.Len(t, h.store.calls[0], 3)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "rolled back")
	assert.Empty(t, h.cache.companies)
}

func TestImportMappingProjection(t *testing.T) {
	h := newHarness(t, nil)
	req := csvRequest("inventory", "Item Code,Description,On Hand,Ignored\nA,Alpha,4,x\n")
	req.Mapping = `{"Item Code":"sku","description":"name","ON HAND":"quantity"}`

	res := h.svc.Import(context.Background(), ownerSession(), req)

	require.True(t, res.Success, res.SummaryMessage)
	assert.Equal(t, types.JobStatusCompleted, res.Status)
	require.Len(t, h.store.calls, 1)
	rec, ok := h.store.calls[0][0].(*schema.InventoryRecord)
	require.True(t, ok)
	assert.Equal(t, "A", rec.SKU)
	assert.Equal(t, "Alpha", rec.Name)
	assert.Equal(t, 4, rec.Quantity)
	assert.Equal(t, "company-1", rec.CompanyID)
}

func TestImportRejectsMappingToUnknownField(t *testing.T) {
	h := newHarness(t, nil)
	req := csvRequest("inventory", inventoryCSV(1))
	req.Mapping = `{"sku":"not_a_field"}`

	res := h.svc.Import(context.Background(), ownerSession(), req)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMETER", res.ErrorCode)
	assert.Zero(t, h.ledger.created)
}

func TestImportRowCapExceeded(t *testing.T) {
	h := newHarness(t, func(cfg *ImportConfig) { cfg.MaxRows = 3 })

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(5)))

	assert.False(t, res.Success)
	assert.Equal(t, "ROW_LIMIT_EXCEEDED", res.ErrorCode)
	assert.Equal(t, types.JobStatusFailed, res.Status)
	assert.NotEmpty(t, res.ImportID)
	assert.Empty(t, h.store.calls)
	require.Len(t, h.ledger.failed, 1)
	assert.Equal(t, types.JobStatusFailed, h.ledger.jobs[res.ImportID].Status)
}

func TestImportMissingHeaderWritesNoJob(t *testing.T) {
	h := newHarness(t, nil)

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", ",,\nA,B,C\n"))

	assert.False(t, res.Success)
	assert.Equal(t, "MALFORMED_FILE", res.ErrorCode)
	assert.Zero(t, h.ledger.created)
}

func TestImportHeaderOnlyFile(t *testing.T) {
	h := newHarness(t, nil)

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", "sku,name,quantity\n"))

	require.True(t, res.Success)
	assert.Equal(t, types.JobStatusCompleted, res.Status)
	assert.Equal(t, 0, res.TotalRows)
	assert.Empty(t, h.store.calls)
	assert.Empty(t, h.cache.companies)
}

func TestImportRequestChecks(t *testing.T) {
	tests := []struct {
		name    string
		session func(auth.Session) auth.Session
		request func(ImportRequest) ImportRequest
		code    string
	}{
		{
			name:    "no session",
			session: func(s auth.Session) auth.Session { return auth.Session{} },
			code:    "UNAUTHORIZED",
		},
		{
			name:    "member role",
			session: func(s auth.Session) auth.Session { s.Role = types.RoleMember; return s },
			code:    "FORBIDDEN",
		},
		{
			name:    "wrong csrf token",
			request: func(r ImportRequest) ImportRequest { r.CSRFToken = "other"; return r },
			code:    "INVALID_CSRF_TOKEN",
		},
		{
			name:    "missing file",
			request: func(r ImportRequest) ImportRequest { r.File = nil; r.FileSize = 0; return r },
			code:    "FILE_REQUIRED",
		},
		{
			name:    "declared size over limit",
			request: func(r ImportRequest) ImportRequest { r.FileSize = 11 * 1024 * 1024; return r },
			code:    "FILE_TOO_LARGE",
		},
		{
			name: "binary content",
			request: func(r ImportRequest) ImportRequest {
				png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
				r.File, r.FileSize = strings.NewReader(png), int64(len(png))
				return r
			},
			code: "UNSUPPORTED_FILE_TYPE",
		},
		{
			name:    "unknown import type",
			request: func(r ImportRequest) ImportRequest { r.ImportType = "widgets"; return r },
			code:    "INVALID_PARAMETER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			session := ownerSession()
			if tt.session != nil {
				session = tt.session(session)
			}
			req := csvRequest("inventory", inventoryCSV(2))
			if tt.request != nil {
				req = tt.request(req)
			}

			res := h.svc.Import(context.Background(), session, req)

			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.ErrorCode)
			assert.NotEmpty(t, res.SummaryMessage)
			assert.Zero(t, h.ledger.created)
			assert.Empty(t, h.store.calls)
		})
	}
}

func TestImportRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.limiter.limited = true

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(2)))

	assert.False(t, res.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", res.ErrorCode)
	assert.Zero(t, h.ledger.created)
	count, err := testutil.GatherAndCount(h.reg, "importer_rejected_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestImportRateLimiterUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.limiter.err = fmt.Errorf("redis: connection refused")

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(2)))

	assert.False(t, res.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", res.ErrorCode)
}

func TestImportStreamedSizeLimit(t *testing.T) {
	h := newHarness(t, func(cfg *ImportConfig) { cfg.MaxFileSize = 4096 })
	body := inventoryCSV(400)
	req := csvRequest("inventory", body)
	// the client understates the size
	req.FileSize = 100

	res := h.svc.Import(context.Background(), ownerSession(), req)

	assert.False(t, res.Success)
	assert.Equal(t, "FILE_TOO_LARGE", res.ErrorCode)
	assert.Empty(t, h.store.calls)
	assert.Zero(t, h.ledger.created)
	assert.Empty(t, res.ImportID)
}

func TestImportUnderstatedSizeUnseekable(t *testing.T) {
	h := newHarness(t, func(cfg *ImportConfig) { cfg.MaxFileSize = 4096 })
	body := inventoryCSV(400)
	req := csvRequest("inventory", body)
	req.File = slowReader{strings.NewReader(body)}
	req.FileSize = 100

	res := h.svc.Import(context.Background(), ownerSession(), req)

	assert.Equal(t, "FILE_TOO_LARGE", res.ErrorCode)
	assert.Zero(t, h.ledger.created)
	assert.Empty(t, h.store.calls)
}

func TestImportCancelledBetweenBatches(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.store.cancel = cancel
	h.store.cancelAfter = 1

	res := h.svc.Import(ctx, ownerSession(), csvRequest("inventory", inventoryCSV(6)))

	assert.False(t, res.Success)
	assert.Equal(t, types.JobStatusCancelled, res.Status)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Len(t, h.store.calls, 1)
	assert.Equal(t, 1, h.ledger.cancelled)
	assert.Equal(t, types.JobStatusCancelled, h.ledger.jobs[res.ImportID].Status)
	require.Len(t, h.audit.events, 1)
	assert.Equal(t, "import.cancelled", h.audit.events[0].Action)
	// rows already saved still invalidate aggregates
	assert.Equal(t, []string{"company-1"}, h.cache.companies)
}

func TestImportCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.svc.Import(ctx, ownerSession(), csvRequest("inventory", inventoryCSV(3)))

	assert.Equal(t, types.JobStatusCancelled, res.Status)
	assert.Empty(t, h.store.calls)
	assert.Equal(t, 1, h.ledger.cancelled)
}

func TestImportNonAggregateDestinationSkipsCache(t *testing.T) {
	h := newHarness(t, nil)
	body := "name,email\nAcme,sales@acme.com\n"

	res := h.svc.Import(context.Background(), ownerSession(), csvRequest("suppliers", body))

	require.True(t, res.Success, res.SummaryMessage)
	assert.Equal(t, types.JobStatusCompleted, res.Status)
	assert.Empty(t, h.cache.companies)
	assert.Empty(t, h.views.scheduled)
}

func TestImportDryRunWithoutStorage(t *testing.T) {
	svc := NewImportService(DefaultImportConfig(), Dependencies{})
	req := csvRequest("inventory", inventoryCSV(3))
	req.DryRun = true

	res := svc.Import(context.Background(), ownerSession(), req)

	require.True(t, res.Success)
	assert.Equal(t, 3, res.ProcessedCount)
}

func TestImportWithoutStorageRejectsRealImport(t *testing.T) {
	svc := NewImportService(DefaultImportConfig(), Dependencies{})

	res := svc.Import(context.Background(), ownerSession(), csvRequest("inventory", inventoryCSV(3)))

	assert.False(t, res.Success)
	assert.Equal(t, "INTERNAL_ERROR", res.ErrorCode)
}

func TestImportMetricsRecorded(t *testing.T) {
	h := newHarness(t, nil)

	h.svc.Import(context.Background(), ownerSession(), csvRequest("inventory", "sku,name,quantity\nA,Alpha,1\nB,,1\n"))

	count, err := testutil.GatherAndCount(h.reg, "importer_imports_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// slowReader returns one byte at a time so the size limiter sees every read
type slowReader struct{ r io.Reader }

func (s slowReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.r.Read(p[:1])
}

func TestImportSmallReads(t *testing.T) {
	h := newHarness(t, nil)
	body := inventoryCSV(3)
	req := csvRequest("inventory", body)
	req.File = slowReader{strings.NewReader(body)}

	res := h.svc.Import(context.Background(), ownerSession(), req)

	require.True(t, res.Success, res.SummaryMessage)
	assert.Equal(t, 3, h.store.rows())
}
