package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// WithTenantRLS runs fn in a transaction bound to one tenant. Inside it the
// search_path is the service schema, app.current_tenant holds tenantID for
// the row level security policies, and lock_timeout turns a long wait on a
// product row into SQLSTATE 55P03. A context from WithSnapshot runs the
// transaction at REPEATABLE READ.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID string, fn func(context.Context, *sqlx.Tx) error) error {
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if snapshotRequested(ctx) {
			if _, err := tx.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
				return fmt.Errorf("failed to set isolation level: %w", err)
			}
		}

		searchPath := db.searchPath
		if searchPath == "" {
			searchPath = "public"
		}
		if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+quoteSearchPath(searchPath)); err != nil {
			return fmt.Errorf("failed to set search_path to %s: %w", searchPath, err)
		}

		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID); err != nil {
			return fmt.Errorf("failed to set app.current_tenant to %s: %w", tenantID, err)
		}

		if db.lockTimeout > 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", db.lockTimeout.Milliseconds())); err != nil {
				return fmt.Errorf("failed to set lock_timeout: %w", err)
			}
		}

		return fn(ctx, tx)
	})
}

type snapshotKey struct{}

// WithSnapshot asks WithTenantRLS to read every statement from one
// snapshot. Writes may then fail with SQLSTATE 40001, which IsRetryable
// reports.
func WithSnapshot(ctx context.Context) context.Context {
	return context.WithValue(ctx, snapshotKey{}, true)
}

func snapshotRequested(ctx context.Context) bool {
	on, _ := ctx.Value(snapshotKey{}).(bool)
	return on
}

// quoteSearchPath quotes each schema identifier of a comma separated list.
func quoteSearchPath(path string) string {
	parts := strings.Split(path, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ", ")
}
