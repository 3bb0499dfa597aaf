package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
)

const lotColumns = `id, product_id, lot_number, initial_quantity, current_quantity,
	expiry_date, received_date, status, created_at, updated_at`

// CreateLot creates a new lot
func (t *pgTx) CreateLot(ctx context.Context, l *domain.Lot) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lots (
			id, tenant_id, product_id, lot_number, initial_quantity, current_quantity,
			expiry_date, received_date, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		l.ID, t.tenantID, l.ProductID, l.LotNumber, l.InitialQuantity, l.CurrentQuantity,
		l.ExpiryDate, l.ReceivedDate, l.Status,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	return mapErr(err)
}

// GetLot gets a lot by ID
func (t *pgTx) GetLot(ctx context.Context, id string) (*domain.Lot, error) {
	var l domain.Lot
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`
	if err := t.tx.GetContext(ctx, &l, query, id); err != nil {
		return nil, notFound(err, "lot")
	}
	return &l, nil
}

// ListLots lists all lots of a product in FEFO order
func (t *pgTx) ListLots(ctx context.Context, productID string) ([]domain.Lot, error) {
	lots := []domain.Lot{}
	query := `
		SELECT ` + lotColumns + ` FROM lots
		WHERE product_id = $1
		ORDER BY expiry_date ASC NULLS LAST, received_date, lot_number
	`
	if err := t.tx.SelectContext(ctx, &lots, query, productID); err != nil {
		return nil, err
	}
	return lots, nil
}

// SaveLot writes the materialized quantity and status
func (t *pgTx) SaveLot(ctx context.Context, l *domain.Lot) error {
	query := `
		UPDATE lots SET current_quantity = $2, status = $3
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query, l.ID, l.CurrentQuantity, l.Status).Scan(&l.UpdatedAt)
	if err != nil {
		return mapErr(notFound(err, "lot"))
	}
	return nil
}
