package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/repository"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/medflow/stockledger/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mockTenant = "5f0c7a8e-3b9d-4c61-9a2e-0d4b6f1e2c33"

var productColumnNames = []string{
	"id", "sku", "name", "category", "unit", "track_stock", "requires_lot_tracking",
	"min_stock", "max_stock", "reorder_point", "reorder_quantity", "unit_cost", "is_active",
	"created_at", "updated_at",
}

func newMockStore(t *testing.T) (*repository.Store, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	return repository.NewStore(database.Wrap(mockDB.DB, logger.Nop(), testutil.SearchPath, 0)), mockDB
}

func mockCtx() context.Context {
	return tenant.WithTenantID(context.Background(), mockTenant)
}

func TestStore_AtomicRequiresTenant(t *testing.T) {
	st, mockDB := newMockStore(t)

	called := false
	err := st.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	mockDB.ExpectationsWereMet(t)
}

func TestStore_GetProductNotFound(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.Mock.ExpectQuery(`(?s)SELECT id, sku, .* FROM products WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mockDB.ExpectRollback()

	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetProduct(ctx, "missing")
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestStore_GetProductMalformedID(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.Mock.ExpectQuery(`(?s)SELECT id, sku, .* FROM products WHERE id = \$1`).
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"})
	mockDB.ExpectRollback()

	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetProduct(ctx, "not-a-uuid")
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestStore_OnHand(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.ExpectQuery(`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE product_id = $1`).
		WithArgs("prod-1").
		WillReturnRows(testutil.MockRows("coalesce").AddRow(12))
	mockDB.ExpectCommit()

	var onHand int
	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		var err error
		onHand, err = tx.OnHand(ctx, "prod-1")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 12, onHand)
	mockDB.ExpectationsWereMet(t)
}

func TestStore_ListProductsFiltersAndPages(t *testing.T) {
	st, mockDB := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	category := "consumables"

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.ExpectQuery(`SELECT COUNT(*) FROM products WHERE category = $1 AND is_active = TRUE`).
		WithArgs(category).
		WillReturnRows(testutil.MockRows("count").AddRow(3))
	mockDB.Mock.ExpectQuery(`(?s)FROM products WHERE category = \$1 AND is_active = TRUE ORDER BY name, id LIMIT \$2 OFFSET \$3`).
		WithArgs(category, 1, 2).
		WillReturnRows(testutil.MockRows(productColumnNames...).AddRow(
			"prod-3", "GLV-M", "Gloves M", category, "box", true, false,
			5, nil, nil, nil, "4.20", true, now, now,
		))
	mockDB.ExpectCommit()

	var (
		products []domain.Product
		total    int
	)
	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		var err error
		products, total, err = tx.ListProducts(ctx, domain.ProductFilter{
			Category:   &category,
			ActiveOnly: true,
			Limit:      1,
			Offset:     2,
		})
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, products, 1)
	assert.Equal(t, "GLV-M", products[0].SKU)
	assert.True(t, decimal.RequireFromString("4.20").Equal(products[0].UnitCost))
	assert.Nil(t, products[0].MaxStock)
	mockDB.ExpectationsWereMet(t)
}

func TestStore_CreateProductDuplicateSKU(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.ExpectExec(`INSERT INTO tenant_registry (tenant_id) VALUES ($1) ON CONFLICT DO NOTHING`).
		WithArgs(mockTenant).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery(`(?s)INSERT INTO products .* RETURNING created_at, updated_at`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "products_tenant_sku_key"})
	mockDB.ExpectRollback()

	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, &domain.Product{SKU: "GLV-M", Name: "Gloves M", Unit: "box", IsActive: true})
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestStore_LockConflictStaysRetryable(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.Mock.ExpectQuery(`(?s)FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs("prod-1").
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mockDB.ExpectRollback()

	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockProduct(ctx, "prod-1")
		return err
	})

	require.Error(t, err)
	assert.True(t, database.IsRetryable(err))
	mockDB.ExpectationsWereMet(t)
}

func TestStore_Tenants(t *testing.T) {
	st, mockDB := newMockStore(t)

	mockDB.ExpectQuery(`SELECT tenant_id FROM inventory.tenant_registry ORDER BY tenant_id`).
		WillReturnRows(testutil.MockRows("tenant_id").AddRow(mockTenant).AddRow("7a1d2e3f-0000-4000-8000-000000000001"))

	ids, err := st.Tenants(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{mockTenant, "7a1d2e3f-0000-4000-8000-000000000001"}, ids)
	mockDB.ExpectationsWereMet(t)
}

func TestStore_InsertEntryAssignsID(t *testing.T) {
	st, mockDB := newMockStore(t)
	occurred := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.Mock.ExpectQuery(`(?s)INSERT INTO ledger_entries .* RETURNING occurred_at`).
		WithArgs(testutil.AnyUUID{}, mockTenant, "prod-1", nil, -2, "consumption", "treatment", "tr-9", "user-1").
		WillReturnRows(testutil.MockRows("occurred_at").AddRow(occurred))
	mockDB.ExpectCommit()

	entry := &domain.LedgerEntry{
		ProductID:     "prod-1",
		Delta:         -2,
		Reason:        domain.ReasonConsumption,
		ReferenceType: "treatment",
		ReferenceID:   "tr-9",
		ActorID:       "user-1",
	}
	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertEntry(ctx, entry)
	})

	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, occurred, entry.OccurredAt)
	mockDB.ExpectationsWereMet(t)
}

func TestStore_CreateReservationWithExpiry(t *testing.T) {
	st, mockDB := newMockStore(t)
	expires := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantBegin(testutil.SearchPath, mockTenant, 0)
	mockDB.Mock.ExpectQuery(`(?s)INSERT INTO reservations .* RETURNING created_at`).
		WithArgs("res-1", mockTenant, "prod-1", 4, "treatment", "tr-1", "active", testutil.AnyTime{}, "user-1").
		WillReturnRows(testutil.MockRows("created_at").AddRow(expires.Add(-24 * time.Hour)))
	mockDB.ExpectCommit()

	err := st.Atomic(mockCtx(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateReservation(ctx, &domain.Reservation{
			ID:            "res-1",
			ProductID:     "prod-1",
			Quantity:      4,
			ReferenceType: "treatment",
			ReferenceID:   "tr-1",
			Status:        domain.ReservationActive,
			ExpiresAt:     &expires,
			ActorID:       "user-1",
		})
	})

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}
