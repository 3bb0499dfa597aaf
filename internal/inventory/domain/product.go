// Package domain holds the inventory entities and the pure rules over them:
// stock status classification, lot status, FEFO allocation and the count
// state machine. Nothing here touches storage.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Identity is immutable, thresholds are not.
// Products referenced by ledger entries are deactivated, never deleted.
type Product struct {
	ID                  string          `db:"id" json:"id"`
	SKU                 string          `db:"sku" json:"sku"`
	Name                string          `db:"name" json:"name"`
	Category            *string         `db:"category" json:"category,omitempty"`
	Unit                string          `db:"unit" json:"unit"`
	TrackStock          bool            `db:"track_stock" json:"track_stock"`
	RequiresLotTracking bool            `db:"requires_lot_tracking" json:"requires_lot_tracking"`
	MinStock            int             `db:"min_stock" json:"min_stock"`
	MaxStock            *int            `db:"max_stock" json:"max_stock,omitempty"`
	ReorderPoint        *int            `db:"reorder_point" json:"reorder_point,omitempty"`
	ReorderQuantity     *int            `db:"reorder_quantity" json:"reorder_quantity,omitempty"`
	UnitCost            decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Category    *string
	TrackedOnly bool
	ActiveOnly  bool
	IDs         []string
	Limit       int
	Offset      int
}

// StockStatus classifies a product's stock position.
type StockStatus string

const (
	StockStatusInStock    StockStatus = "in_stock"
	StockStatusLowStock   StockStatus = "low_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
	StockStatusOverStock  StockStatus = "over_stock"
	StockStatusNotTracked StockStatus = "not_tracked"
)

// EvaluateStockStatus classifies stock from on-hand, active reservations and
// the product thresholds. Out of stock wins over low stock, and over stock
// is only reported once both fail, so a product never has two statuses.
func EvaluateStockStatus(onHand, reservedActive, minStock int, maxStock *int, trackStock bool) StockStatus {
	if !trackStock {
		return StockStatusNotTracked
	}
	available := onHand - reservedActive
	switch {
	case available <= 0:
		return StockStatusOutOfStock
	case available <= minStock:
		return StockStatusLowStock
	case maxStock != nil && onHand > *maxStock:
		return StockStatusOverStock
	default:
		return StockStatusInStock
	}
}

// Status evaluates the product's stock status.
func (p *Product) Status(onHand, reservedActive int) StockStatus {
	return EvaluateStockStatus(onHand, reservedActive, p.MinStock, p.MaxStock, p.TrackStock)
}

// NeedsReorder reports whether available stock has reached the reorder point.
func (p *Product) NeedsReorder(available int) bool {
	return p.TrackStock && p.ReorderPoint != nil && available <= *p.ReorderPoint
}

// SuggestedReorderQuantity is the configured reorder quantity, or the amount
// needed to refill to max stock (or to min stock when no max is set).
func (p *Product) SuggestedReorderQuantity(available int) int {
	if p.ReorderQuantity != nil && *p.ReorderQuantity > 0 {
		return *p.ReorderQuantity
	}
	target := p.MinStock
	if p.MaxStock != nil {
		target = *p.MaxStock
	}
	if q := target - available; q > 0 {
		return q
	}
	return 0
}

// StockLevel is the read model for one product's stock position.
type StockLevel struct {
	ProductID          string      `json:"product_id"`
	OnHand             int         `json:"on_hand"`
	Reserved           int         `json:"reserved"`
	Available          int         `json:"available"`
	Status             StockStatus `json:"status"`
	ReorderRecommended bool        `json:"reorder_recommended"`
	SuggestedReorder   int         `json:"suggested_reorder_quantity,omitempty"`
	Lots               []Lot       `json:"lots,omitempty"`
}

// NewStockLevel assembles the read model.
func NewStockLevel(p *Product, onHand, reserved int, lots []Lot) StockLevel {
	available := onHand - reserved
	level := StockLevel{
		ProductID: p.ID,
		OnHand:    onHand,
		Reserved:  reserved,
		Available: available,
		Status:    p.Status(onHand, reserved),
		Lots:      lots,
	}
	if p.NeedsReorder(available) {
		level.ReorderRecommended = true
		level.SuggestedReorder = p.SuggestedReorderQuantity(available)
	}
	return level
}
