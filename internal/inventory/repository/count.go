package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
)

const countColumns = `id, count_number, count_type, status, scope_category, started_at,
	completed_at, approved_at, cancelled_at, started_by, approved_by, total_items,
	items_counted, items_with_difference, total_difference_value, notes, updated_at`

const countLineColumns = `id, count_id, product_id, lot_id, lot_number, expected_quantity,
	counted_quantity, difference, unit_cost, counted_at, counted_by`

// NextCountSequence returns the next per-day count sequence number. The
// upsert takes a row lock, so concurrent starts get distinct numbers.
func (t *pgTx) NextCountSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	query := `
		INSERT INTO count_sequences (tenant_id, day, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, day) DO UPDATE SET last_value = count_sequences.last_value + 1
		RETURNING last_value
	`
	if err := t.tx.GetContext(ctx, &seq, query, t.tenantID, day.UTC().Format(time.DateOnly)); err != nil {
		return 0, err
	}
	return seq, nil
}

// CreateCount creates a new inventory count
func (t *pgTx) CreateCount(ctx context.Context, c *domain.InventoryCount) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_counts (
			id, tenant_id, count_number, count_type, status, scope_category, started_at,
			started_by, total_items, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		c.ID, t.tenantID, c.CountNumber, c.CountType, c.Status, c.ScopeCategory, c.StartedAt,
		c.StartedBy, c.TotalItems, c.Notes,
	).Scan(&c.UpdatedAt)
	return mapErr(err)
}

// GetCount gets an inventory count by ID
func (t *pgTx) GetCount(ctx context.Context, id string) (*domain.InventoryCount, error) {
	var c domain.InventoryCount
	query := `SELECT ` + countColumns + ` FROM inventory_counts WHERE id = $1`
	if err := t.tx.GetContext(ctx, &c, query, id); err != nil {
		return nil, notFound(err, "inventory_count")
	}
	return &c, nil
}

// LockCount gets an inventory count and holds its row lock
func (t *pgTx) LockCount(ctx context.Context, id string) (*domain.InventoryCount, error) {
	var c domain.InventoryCount
	query := `SELECT ` + countColumns + ` FROM inventory_counts WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &c, query, id); err != nil {
		return nil, notFound(err, "inventory_count")
	}
	return &c, nil
}

// UpdateCount writes status, timestamps and aggregates
func (t *pgTx) UpdateCount(ctx context.Context, c *domain.InventoryCount) error {
	query := `
		UPDATE inventory_counts SET
			status = $2, completed_at = $3, approved_at = $4, cancelled_at = $5, approved_by = $6,
			total_items = $7, items_counted = $8, items_with_difference = $9,
			total_difference_value = $10, notes = $11
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		c.ID, c.Status, c.CompletedAt, c.ApprovedAt, c.CancelledAt, c.ApprovedBy,
		c.TotalItems, c.ItemsCounted, c.ItemsWithDifference,
		c.TotalDifferenceValue, c.Notes,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return mapErr(notFound(err, "inventory_count"))
	}
	return nil
}

// InsertCountLines inserts the frozen lines of a new count
func (t *pgTx) InsertCountLines(ctx context.Context, lines []domain.CountLine) error {
	query := `
		INSERT INTO count_lines (
			id, tenant_id, count_id, product_id, lot_id, lot_number, expected_quantity, unit_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	stmt, err := t.tx.PreparexContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range lines {
		l := &lines[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, t.tenantID, l.CountID, l.ProductID, l.LotID, l.LotNumber, l.ExpectedQuantity, l.UnitCost,
		); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// ListCountLines lists a count's lines in creation order
func (t *pgTx) ListCountLines(ctx context.Context, countID string) ([]domain.CountLine, error) {
	lines := []domain.CountLine{}
	query := `
		SELECT ` + countLineColumns + ` FROM count_lines
		WHERE count_id = $1
		ORDER BY product_id, lot_number NULLS FIRST, id
	`
	if err := t.tx.SelectContext(ctx, &lines, query, countID); err != nil {
		return nil, err
	}
	return lines, nil
}

// UpdateCountLine writes a recorded count
func (t *pgTx) UpdateCountLine(ctx context.Context, l *domain.CountLine) error {
	query := `
		UPDATE count_lines SET counted_quantity = $2, difference = $3, counted_at = $4, counted_by = $5
		WHERE id = $1
	`
	res, err := t.tx.ExecContext(ctx, query, l.ID, l.CountedQuantity, l.Difference, l.CountedAt, l.CountedBy)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, "count_line")
}
