package service

import (
	"context"
	"strings"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/shopspring/decimal"
)

// CatalogService manages products.
type CatalogService struct {
	*Engine
}

// NewCatalogService creates a new catalog service
func NewCatalogService(engine *Engine) *CatalogService {
	return &CatalogService{Engine: engine}
}

// CreateProductRequest describes a new product
type CreateProductRequest struct {
	SKU                 string          `json:"sku" validate:"required,max=64"`
	Name                string          `json:"name" validate:"required,max=255"`
	Category            *string         `json:"category,omitempty" validate:"omitempty,max=100"`
	Unit                string          `json:"unit" validate:"required,max=32"`
	TrackStock          bool            `json:"track_stock"`
	RequiresLotTracking bool            `json:"requires_lot_tracking"`
	MinStock            int             `json:"min_stock" validate:"gte=0"`
	MaxStock            *int            `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	ReorderPoint        *int            `json:"reorder_point,omitempty" validate:"omitempty,gte=0"`
	ReorderQuantity     *int            `json:"reorder_quantity,omitempty" validate:"omitempty,gte=0"`
	UnitCost            decimal.Decimal `json:"unit_cost"`
}

// UpdateProductRequest changes thresholds and descriptive fields. Nil
// fields are left unchanged.
type UpdateProductRequest struct {
	Name                *string          `json:"name,omitempty" validate:"omitempty,max=255"`
	Category            *string          `json:"category,omitempty" validate:"omitempty,max=100"`
	Unit                *string          `json:"unit,omitempty" validate:"omitempty,max=32"`
	TrackStock          *bool            `json:"track_stock,omitempty"`
	RequiresLotTracking *bool            `json:"requires_lot_tracking,omitempty"`
	MinStock            *int             `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock            *int             `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	ReorderPoint        *int             `json:"reorder_point,omitempty" validate:"omitempty,gte=0"`
	ReorderQuantity     *int             `json:"reorder_quantity,omitempty" validate:"omitempty,gte=0"`
	UnitCost            *decimal.Decimal `json:"unit_cost,omitempty"`
}

func validateProduct(p *domain.Product) error {
	details := map[string]string{}
	if strings.TrimSpace(p.SKU) == "" {
		details["sku"] = "is required"
	}
	if strings.TrimSpace(p.Name) == "" {
		details["name"] = "is required"
	}
	if p.MinStock < 0 {
		details["min_stock"] = "must not be negative"
	}
	if p.MaxStock != nil && *p.MaxStock < p.MinStock {
		details["max_stock"] = "must not be below min_stock"
	}
	if p.ReorderPoint != nil && *p.ReorderPoint < 0 {
		details["reorder_point"] = "must not be negative"
	}
	if p.ReorderQuantity != nil && *p.ReorderQuantity < 0 {
		details["reorder_quantity"] = "must not be negative"
	}
	if p.UnitCost.IsNegative() {
		details["unit_cost"] = "must not be negative"
	}
	if p.RequiresLotTracking && !p.TrackStock {
		details["requires_lot_tracking"] = "requires track_stock"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Create adds a product to the catalog
func (s *CatalogService) Create(ctx context.Context, req CreateProductRequest) (*domain.Product, error) {
	p := &domain.Product{
		SKU:                 strings.TrimSpace(req.SKU),
		Name:                strings.TrimSpace(req.Name),
		Category:            req.Category,
		Unit:                req.Unit,
		TrackStock:          req.TrackStock,
		RequiresLotTracking: req.RequiresLotTracking,
		MinStock:            req.MinStock,
		MaxStock:            req.MaxStock,
		ReorderPoint:        req.ReorderPoint,
		ReorderQuantity:     req.ReorderQuantity,
		UnitCost:            req.UnitCost,
		IsActive:            true,
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		if err := tx.CreateProduct(ctx, p); err != nil {
			return err
		}
		// A tracked product starts at zero and is out of stock right away.
		if p.TrackStock {
			out.touch(p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().Str("product_id", p.ID).Str("sku", p.SKU).Msg("product created")
	return p, nil
}

// Get returns a product by ID
func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Product, error) {
	var p *domain.Product
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

// List lists products
func (s *CatalogService) List(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int, error) {
	var (
		products []domain.Product
		total    int
	)
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		products, total, err = tx.ListProducts(ctx, f)
		return err
	})
	return products, total, err
}

// Update changes a product. The tracking flags are fixed once the product
// has ledger history, since on-hand and lots would stop agreeing.
func (s *CatalogService) Update(ctx context.Context, id string, req UpdateProductRequest) (*domain.Product, error) {
	var p *domain.Product
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		p, err = tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}

		trackingChanged := (req.TrackStock != nil && *req.TrackStock != p.TrackStock) ||
			(req.RequiresLotTracking != nil && *req.RequiresLotTracking != p.RequiresLotTracking)
		if trackingChanged {
			_, n, err := tx.ListEntries(ctx, store.LedgerFilter{ProductID: id, Limit: 1})
			if err != nil {
				return err
			}
			if n > 0 {
				return errors.Unprocessable("stock tracking cannot change once the product has ledger entries")
			}
		}

		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			p.Category = req.Category
		}
		if req.Unit != nil {
			p.Unit = *req.Unit
		}
		if req.TrackStock != nil {
			p.TrackStock = *req.TrackStock
		}
		if req.RequiresLotTracking != nil {
			p.RequiresLotTracking = *req.RequiresLotTracking
		}
		if req.MinStock != nil {
			p.MinStock = *req.MinStock
		}
		if req.MaxStock != nil {
			p.MaxStock = req.MaxStock
		}
		if req.ReorderPoint != nil {
			p.ReorderPoint = req.ReorderPoint
		}
		if req.ReorderQuantity != nil {
			p.ReorderQuantity = req.ReorderQuantity
		}
		if req.UnitCost != nil {
			p.UnitCost = *req.UnitCost
		}
		if err := validateProduct(p); err != nil {
			return err
		}
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		out.touch(p.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate hides the product from new stock operations. Its history is
// kept and its alerts are resolved.
func (s *CatalogService) Deactivate(ctx context.Context, id string) error {
	return s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return nil
		}
		p.IsActive = false
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return err
		}
		out.touch(p.ID)
		return nil
	})
}
