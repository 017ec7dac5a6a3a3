package persist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/circuitbreaker"
	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/types"
)

// fakeStore records every call and fails the calls listed in failOn (1-based)
type fakeStore struct {
	mu     sync.Mutex
	calls  [][]schema.Record
	failOn map[int]error
	// failures counts down transient failures before a call succeeds
	failures int
}

func (f *fakeStore) Upsert(ctx context.Context, dest destination.Destination, records []schema.Record, companyID, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, records)
	if f.failures > 0 {
		f.failures--
		return apperrors.NewDatabaseError("upsert", fmt.Errorf("connection reset by peer"))
	}
	if err, ok := f.failOn[len(f.calls)]; ok {
		return err
	}
	return nil
}

func records(n int) []schema.Record {
	out := make([]schema.Record, n)
	for i := range out {
		out[i] = &schema.InventoryRecord{CompanyID: "c1", SKU: fmt.Sprintf("SKU-%d", i), Name: "item"}
	}
	return out
}

func mustDest(t *testing.T, it types.ImportType) destination.Destination {
	t.Helper()
	d, err := destination.Lookup(it)
	require.NoError(t, err)
	return d
}

func fastConfig(batch int) Config {
	return Config{BatchSize: batch, Attempts: 2, InitialDelay: time.Millisecond}
}

func TestPersistBatchedAllSucceed(t *testing.T) {
	store := &fakeStore{}
	p := New(store, fastConfig(2))

	out := p.Persist(context.Background(), mustDest(t, types.ImportInventory), records(5), "c1", "u1")

	assert.Equal(t, 5, out.Processed)
	assert.Equal(t, 0, out.FailedRows)
	assert.Equal(t, 3, out.Batches)
	assert.Empty(t, out.Errors)
	require.Len(t, store.calls, 3)
	assert.Len(t, store.calls[2], 1)
}

func TestPersistBatchFailureIsolation(t *testing.T) {
	store := &fakeStore{failOn: map[int]error{
		2: apperrors.NewConstraintViolationError("duplicate SKU in batch", nil),
	}}
	p := New(store, fastConfig(4))

	out := p.Persist(context.Background(), mustDest(t, types.ImportInventory), records(10), "c1", "u1")

	// batches of 4, 4, 2; the second fails
	assert.Equal(t, 6, out.Processed)
	assert.Equal(t, 4, out.FailedRows)
	assert.Equal(t, 3, out.Batches)
	assert.Equal(t, 1, out.FailedBatches)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, models.BatchErrorRow, out.Errors[0].Row)
	assert.Equal(t, "Batch 2 of 3 (4 rows) failed: duplicate SKU in batch", out.Errors[0].Message)
	// constraint violations are not retried
	assert.Len(t, store.calls, 3)
}

func TestPersistRetriesTransientFailure(t *testing.T) {
	store := &fakeStore{failures: 1}
	p := New(store, fastConfig(500))

	out := p.Persist(context.Background(), mustDest(t, types.ImportInventory), records(3), "c1", "u1")

	assert.Equal(t, 3, out.Processed)
	assert.Empty(t, out.Errors)
	assert.Len(t, store.calls, 2)
}

func TestPersistHidesInternalErrors(t *testing.T) {
	store := &fakeStore{failures: 5}
	p := New(store, fastConfig(500))

	out := p.Persist(context.Background(), mustDest(t, types.ImportInventory), records(3), "c1", "u1")

	require.Len(t, out.Errors, 1)
	assert.False(t, strings.Contains(out.Errors[0].Message, "connection reset"))
	assert.Equal(t, 3, out.FailedRows)
	assert.Len(t, store.calls, 2)
}

func TestPersistTransactionalAllOrNothing(t *testing.T) {
	store := &fakeStore{failOn: map[int]error{
		1: apperrors.NewConstraintViolationError("a supplier name is listed twice", nil),
	}}
	p := New(store, fastConfig(2))

	out := p.Persist(context.Background(), mustDest(t, types.ImportSuppliers), records(5), "c1", "u1")

	assert.Equal(t, 0, out.Processed)
	assert.Equal(t, 5, out.FailedRows)
	assert.Equal(t, 1, out.Batches)
	require.Len(t, store.calls, 1)
	assert.Len(t, store.calls[0], 5)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "Import rolled back, no rows were saved: a supplier name is listed twice", out.Errors[0].Message)
}

func TestPersistTransactionalSuccess(t *testing.T) {
	store := &fakeStore{}
	p := New(store, fastConfig(2))

	out := p.Persist(context.Background(), mustDest(t, types.ImportLocations), records(5), "c1", "u1")

	assert.Equal(t, 5, out.Processed)
	assert.Len(t, store.calls, 1)
}

func TestPersistNoRecordsNoCall(t *testing.T) {
	store := &fakeStore{}
	p := New(store, fastConfig(2))

	for _, it := range []types.ImportType{types.ImportInventory, types.ImportSuppliers} {
		out := p.Persist(context.Background(), mustDest(t, it), nil, "c1", "u1")
		assert.Equal(t, Outcome{}, out)
	}
	assert.Empty(t, store.calls)
}

func TestPersistStopsOnCancelledContext(t *testing.T) {
	store := &fakeStore{}
	p := New(store, fastConfig(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := p.Persist(ctx, mustDest(t, types.ImportInventory), records(5), "c1", "u1")

	assert.True(t, out.Cancelled)
	assert.Equal(t, 0, out.Processed)
	assert.Empty(t, store.calls)
}

func TestPersistOpenCircuitFailsFast(t *testing.T) {
	store := &fakeStore{failures: 100}
	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:        "test",
		MaxFailures: 2,
		Timeout:     time.Hour,
		IsFailure:   apperrors.IsRetryable,
	})
	cfg := fastConfig(1)
	cfg.Breaker = breaker
	p := New(store, cfg)

	out := p.Persist(context.Background(), mustDest(t, types.ImportInventory), records(4), "c1", "u1")

	assert.Equal(t, 0, out.Processed)
	assert.Equal(t, 4, out.FailedBatches)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState())
	// the first batch uses both attempts and opens the circuit; later batches never reach the store
	assert.Len(t, store.calls, 2)
	require.Len(t, out.Errors, 4)
	assert.Contains(t, out.Errors[3].Message, "temporarily unavailable")
}

func TestProperty_PartitionPreservesRecords(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("partition covers every record in order with bounded batches", prop.ForAll(
		func(n, size int) bool {
			in := records(n)
			batches := Partition(in, size)

			if len(batches) != (n+size-1)/size {
				return false
			}
			i := 0
			for _, b := range batches {
				if len(b) == 0 || len(b) > size {
					return false
				}
				for _, r := range b {
					if r != in[i] {
						return false
					}
					i++
				}
			}
			return i == n
		},
		gen.IntRange(0, 2000),
		gen.IntRange(1, 600),
	))

	properties.TestingRun(t)
}
