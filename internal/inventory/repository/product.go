package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/medflow/stockledger/internal/inventory/domain"
)

const productColumns = `id, sku, name, category, unit, track_stock, requires_lot_tracking,
	min_stock, max_stock, reorder_point, reorder_quantity, unit_cost, is_active,
	created_at, updated_at`

// CreateProduct inserts a product and registers the tenant for sweeps
func (t *pgTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO tenant_registry (tenant_id) VALUES ($1) ON CONFLICT DO NOTHING`, t.tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO products (
			id, tenant_id, sku, name, category, unit, track_stock, requires_lot_tracking,
			min_stock, max_stock, reorder_point, reorder_quantity, unit_cost, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		p.ID, t.tenantID, p.SKU, p.Name, p.Category, p.Unit, p.TrackStock, p.RequiresLotTracking,
		p.MinStock, p.MaxStock, p.ReorderPoint, p.ReorderQuantity, p.UnitCost, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

// GetProduct gets a product by ID
func (t *pgTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if err := t.tx.GetContext(ctx, &p, query, id); err != nil {
		return nil, notFound(err, "product")
	}
	return &p, nil
}

// LockProduct gets a product and holds its row lock for the transaction
func (t *pgTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &p, query, id); err != nil {
		return nil, notFound(err, "product")
	}
	return &p, nil
}

// UpdateProduct updates the mutable product fields
func (t *pgTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	query := `
		UPDATE products SET
			sku = $2, name = $3, category = $4, unit = $5, track_stock = $6,
			requires_lot_tracking = $7, min_stock = $8, max_stock = $9,
			reorder_point = $10, reorder_quantity = $11, unit_cost = $12, is_active = $13
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		p.ID, p.SKU, p.Name, p.Category, p.Unit, p.TrackStock,
		p.RequiresLotTracking, p.MinStock, p.MaxStock,
		p.ReorderPoint, p.ReorderQuantity, p.UnitCost, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapErr(notFound(err, "product"))
	}
	return nil
}

// ListProducts lists products ordered by name
func (t *pgTx) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int, error) {
	w := &where{}
	if f.Category != nil {
		w.add("category = ?", *f.Category)
	}
	if f.TrackedOnly {
		w.raw("track_stock = TRUE")
	}
	if f.ActiveOnly {
		w.raw("is_active = TRUE")
	}
	if len(f.IDs) > 0 {
		w.add("id = ANY(?)", pq.Array(f.IDs))
	}

	var total int
	if err := t.tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM products`+w.String(), w.args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + w.String() + ` ORDER BY name, id`
	query += w.limit(f.Limit, f.Offset)

	products := []domain.Product{}
	if err := t.tx.SelectContext(ctx, &products, query, w.args...); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}
