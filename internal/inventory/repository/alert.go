package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
)

const alertColumns = `id, product_id, type, status, current_stock, available, min_stock,
	suggested_reorder_quantity, created_at, acknowledged_at, acknowledged_by, resolved_at`

// FindUnresolvedAlert returns the open or acknowledged alert for a product
// and type, or nil
func (t *pgTx) FindUnresolvedAlert(ctx context.Context, productID string, typ domain.AlertType) (*domain.Alert, error) {
	var a domain.Alert
	query := `
		SELECT ` + alertColumns + ` FROM stock_alerts
		WHERE product_id = $1 AND type = $2 AND status <> 'resolved'
	`
	if err := t.tx.GetContext(ctx, &a, query, productID, typ); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreateAlert creates a new alert. The partial unique index rejects a
// second unresolved alert for the same product and type.
func (t *pgTx) CreateAlert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_alerts (
			id, tenant_id, product_id, type, status, current_stock, available, min_stock,
			suggested_reorder_quantity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		a.ID, t.tenantID, a.ProductID, a.Type, a.Status, a.CurrentStock, a.Available, a.MinStock,
		a.SuggestedReorderQuantity,
	).Scan(&a.CreatedAt)
	return mapErr(err)
}

// GetAlert gets an alert by ID
func (t *pgTx) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	var a domain.Alert
	query := `SELECT ` + alertColumns + ` FROM stock_alerts WHERE id = $1`
	if err := t.tx.GetContext(ctx, &a, query, id); err != nil {
		return nil, notFound(err, "alert")
	}
	return &a, nil
}

// UpdateAlert writes status and snapshot fields
func (t *pgTx) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	query := `
		UPDATE stock_alerts SET
			status = $2, current_stock = $3, available = $4, suggested_reorder_quantity = $5,
			acknowledged_at = $6, acknowledged_by = $7, resolved_at = $8
		WHERE id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		a.ID, a.Status, a.CurrentStock, a.Available, a.SuggestedReorderQuantity,
		a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, "alert")
}

// ListAlerts lists alerts, newest first
func (t *pgTx) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, int, error) {
	w := &where{}
	if f.ProductID != nil {
		w.add("product_id = ?", *f.ProductID)
	}
	if f.Status != nil {
		w.add("status = ?", *f.Status)
	}
	if f.Unresolved {
		w.raw("status <> 'resolved'")
	}

	var total int
	if err := t.tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_alerts`+w.String(), w.args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + alertColumns + ` FROM stock_alerts` + w.String() + ` ORDER BY created_at DESC, id`
	query += w.limit(f.Limit, f.Offset)

	alerts := []domain.Alert{}
	if err := t.tx.SelectContext(ctx, &alerts, query, w.args...); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}
