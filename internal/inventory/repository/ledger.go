package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
)

const entryColumns = `id, product_id, lot_id, delta, reason, reference_type, reference_id, occurred_at, actor_id`

// InsertEntry appends a ledger entry. The table rejects updates and deletes.
func (t *pgTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ledger_entries (
			id, tenant_id, product_id, lot_id, delta, reason, reference_type, reference_id, actor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING occurred_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		e.ID, t.tenantID, e.ProductID, e.LotID, e.Delta, e.Reason, e.ReferenceType, e.ReferenceID, e.ActorID,
	).Scan(&e.OccurredAt)
	return mapErr(err)
}

// OnHand sums the product's ledger
func (t *pgTx) OnHand(ctx context.Context, productID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE product_id = $1`
	if err := t.tx.GetContext(ctx, &total, query, productID); err != nil {
		return 0, err
	}
	return total, nil
}

// LedgerByLot sums the product's ledger per lot
func (t *pgTx) LedgerByLot(ctx context.Context, productID string) (map[string]int, error) {
	var rows []struct {
		LotID string `db:"lot_id"`
		Total int    `db:"total"`
	}
	query := `
		SELECT lot_id, SUM(delta) AS total FROM ledger_entries
		WHERE product_id = $1 AND lot_id IS NOT NULL
		GROUP BY lot_id
	`
	if err := t.tx.SelectContext(ctx, &rows, query, productID); err != nil {
		return nil, err
	}

	sums := make(map[string]int, len(rows))
	for _, r := range rows {
		sums[r.LotID] = r.Total
	}
	return sums, nil
}

// ListEntries lists ledger entries in posting order
func (t *pgTx) ListEntries(ctx context.Context, f store.LedgerFilter) ([]domain.LedgerEntry, int, error) {
	w := &where{}
	if f.ProductID != "" {
		w.add("product_id = ?", f.ProductID)
	}
	if f.LotID != nil {
		w.add("lot_id = ?", *f.LotID)
	}
	if f.ReferenceType != nil {
		w.add("reference_type = ?", *f.ReferenceType)
	}
	if f.ReferenceID != nil {
		w.add("reference_id = ?", *f.ReferenceID)
	}
	if f.From != nil {
		w.add("occurred_at >= ?", *f.From)
	}
	if f.To != nil {
		w.add("occurred_at < ?", *f.To)
	}

	var total int
	if err := t.tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries`+w.String(), w.args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + w.String() + ` ORDER BY seq`
	query += w.limit(f.Limit, f.Offset)

	entries := []domain.LedgerEntry{}
	if err := t.tx.SelectContext(ctx, &entries, query, w.args...); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
