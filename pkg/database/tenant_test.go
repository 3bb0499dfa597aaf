package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "0b6f4c2e-9d1a-4f3b-8c5e-7a2d1e0f9b84"

func TestWithTenantRLS_Commits(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	db := database.Wrap(mockDB.DB, logger.Nop(), testutil.SearchPath, 0)

	mockDB.ExpectTenantExec(testutil.SearchPath, tenantID,
		`UPDATE stock_alerts SET status = 'resolved' WHERE id = $1`, sqlmock.NewResult(0, 1))

	err := db.WithTenantRLS(context.Background(), tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE stock_alerts SET status = 'resolved' WHERE id = $1`, "a-1")
		return err
	})

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestWithTenantRLS_Snapshot(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	db := database.Wrap(mockDB.DB, logger.Nop(), testutil.SearchPath, 0)

	mockDB.ExpectBegin()
	mockDB.ExpectExec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectExec(`SET LOCAL search_path TO "inventory", "public"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectExec("SELECT set_config('app.current_tenant', $1, true)").
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectCommit()

	ctx := database.WithSnapshot(context.Background())
	err := db.WithTenantRLS(ctx, tenantID, func(context.Context, *sqlx.Tx) error { return nil })

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestWithTenantRLS_SetsLockTimeout(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	db := database.Wrap(mockDB.DB, logger.Nop(), testutil.SearchPath, 1500*time.Millisecond)

	mockDB.ExpectTenantBegin(testutil.SearchPath, tenantID, 1500*time.Millisecond)
	mockDB.ExpectRollback()

	errBoom := errors.New("boom")
	err := db.WithTenantRLS(context.Background(), tenantID, func(context.Context, *sqlx.Tx) error {
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	mockDB.ExpectationsWereMet(t)
}

func TestWithTenantRLS_RollsBackOnPanic(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	db := database.Wrap(mockDB.DB, logger.Nop(), testutil.SearchPath, 0)

	mockDB.ExpectTenantBegin(testutil.SearchPath, tenantID, 0)
	mockDB.ExpectRollback()

	assert.PanicsWithValue(t, "bad row", func() {
		_ = db.WithTenantRLS(context.Background(), tenantID, func(context.Context, *sqlx.Tx) error {
			panic("bad row")
		})
	})
	mockDB.ExpectationsWereMet(t)
}
