// Package repository is the PostgreSQL implementation of store.Store.
// Every unit of work runs inside database.WithTenantRLS, so row level
// security scopes all statements to the tenant in the context.
package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/tenant"
)

// Store handles stock ledger persistence
type Store struct {
	db *database.DB
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new PostgreSQL store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Atomic implements store.Store
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err // Fail-fast if tenant context missing
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, tenantID: tenantID})
	})
}

// Tenants implements store.Store
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT tenant_id FROM inventory.tenant_registry ORDER BY tenant_id`
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}

type pgTx struct {
	tx       *sqlx.Tx
	tenantID string
}

// mapErr converts constraint violations to AppErrors and leaves every
// other error, including lock conflicts, untouched for the retry layer.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// notFound maps a missing row, or an ID PostgreSQL cannot parse, to NotFound.
func notFound(err error, resource string) error {
	if stderrors.Is(err, sql.ErrNoRows) || database.IsMalformedInput(err) {
		return errors.NotFoundWithKey(resource)
	}
	return err
}

func expectOne(res sql.Result, resource string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundWithKey(resource)
	}
	return nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// limit appends LIMIT/OFFSET placeholders and returns the clause.
func (w *where) limit(limit, offset int) string {
	clause := ""
	if limit > 0 {
		w.args = append(w.args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}
	return clause
}
