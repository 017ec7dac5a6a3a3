package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inventory-importer/internal/destination"
	apperrors "github.com/inventory-importer/internal/errors"
	"github.com/inventory-importer/internal/schema"
	"github.com/inventory-importer/internal/types"
)

func inventoryDest(t *testing.T) destination.Destination {
	t.Helper()
	d, err := destination.Lookup(types.ImportInventory)
	require.NoError(t, err)
	return d
}

func inventoryRecords() []schema.Record {
	return []schema.Record{
		&schema.InventoryRecord{CompanyID: "company-1", SKU: "A-1", Name: "Widget", Quantity: 4},
		&schema.InventoryRecord{CompanyID: "company-1", SKU: "A-2", Name: "Gadget", Quantity: 0},
	}
}

func TestUpsertCallsProcedureWithPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT "batch_upsert_inventory"\(\$1::jsonb, \$2::uuid, \$3::uuid\)`).
		WithArgs(pgxmock.AnyArg(), "company-1", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"batch_upsert_inventory"}).AddRow(2))

	repo := NewUpsertRepository(mock)
	err = repo.Upsert(testContext(t), inventoryDest(t), inventoryRecords(), "company-1", "user-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertClassifiesDriverErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		user      bool
		message   string
	}{
		{
			name:    "unique violation",
			err:     &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"inventory_items_company_id_sku_key\""},
			user:    true,
			message: "a row conflicts with an existing inventory record",
		},
		{
			name:    "same key twice in one call",
			err:     &pgconn.PgError{Code: "21000"},
			user:    true,
			message: "the same key appears more than once in these rows",
		},
		{
			name:    "check violation",
			err:     &pgconn.PgError{Code: "23514"},
			user:    true,
			message: "a value was rejected by the database",
		},
		{
			name:    "raised by procedure",
			err:     &pgconn.PgError{Code: "P0001", Message: `supplier "Acme" does not exist, import suppliers first`},
			user:    true,
			message: `supplier "Acme" does not exist, import suppliers first`,
		},
		{
			name:      "serialization failure",
			err:       &pgconn.PgError{Code: "40001"},
			retryable: true,
		},
		{
			name:      "connection lost",
			err:       errors.New("unexpected EOF"),
			retryable: true,
		},
		{
			name: "undefined function",
			err:  &pgconn.PgError{Code: "42883", Message: "function batch_upsert_inventory does not exist"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectQuery("SELECT").
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(tt.err)

			repo := NewUpsertRepository(mock)
			err = repo.Upsert(testContext(t), inventoryDest(t), inventoryRecords(), "company-1", "user-1")
			require.Error(t, err)

			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Equal(t, tt.user, apperrors.IsUserError(err))
			if tt.message != "" {
				assert.Equal(t, tt.message, apperrors.UserMessage(err))
			}
			assert.NotContains(t, apperrors.UserMessage(err), "inventory_items_company_id_sku_key")
		})
	}
}

func TestUpsertPassesCancellationThrough(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(context.Canceled)

	repo := NewUpsertRepository(mock)
	err = repo.Upsert(testContext(t), inventoryDest(t), inventoryRecords(), "company-1", "user-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpsertRequiresProcedure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewUpsertRepository(mock)
	err = repo.Upsert(testContext(t), destination.Destination{Type: types.ImportInventory}, inventoryRecords(), "company-1", "user-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
