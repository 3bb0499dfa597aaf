package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/shopspring/decimal"
)

// CountService runs physical inventory counts. Counts only touch the
// ledger on approval.
type CountService struct {
	*Engine
}

// NewCountService creates a new count service
func NewCountService(engine *Engine) *CountService {
	return &CountService{Engine: engine}
}

// StartCountRequest opens a count
type StartCountRequest struct {
	CountType domain.CountType  `json:"count_type" validate:"required"`
	Scope     domain.CountScope `json:"scope"`
	Notes     *string           `json:"notes,omitempty"`
}

// CountEntry is one counted quantity. LotID selects the lot line of a
// lot-tracked product.
type CountEntry struct {
	ProductID string  `json:"product_id" validate:"required"`
	LotID     *string `json:"lot_id,omitempty"`
	Counted   int     `json:"counted_quantity" validate:"gte=0"`
}

// CountDetail is a count with its lines
type CountDetail struct {
	Count domain.InventoryCount `json:"count"`
	Lines []domain.CountLine    `json:"lines"`
}

// scopeProducts resolves the products a new count covers.
func scopeProducts(ctx context.Context, tx store.Tx, t domain.CountType, scope domain.CountScope) ([]domain.Product, error) {
	f := domain.ProductFilter{TrackedOnly: true}
	if t == domain.CountTypeFull {
		f.ActiveOnly = true
		products, _, err := tx.ListProducts(ctx, f)
		return products, err
	}

	f.Category = scope.Category
	if len(scope.ProductIDs) == 0 {
		f.ActiveOnly = true
		products, _, err := tx.ListProducts(ctx, f)
		return products, err
	}

	f.TrackedOnly = false
	f.IDs = scope.ProductIDs
	products, _, err := tx.ListProducts(ctx, f)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(products))
	for _, p := range products {
		if !p.TrackStock {
			return nil, errors.Validation(map[string]string{"scope.product_ids": "product " + p.ID + " does not track stock"})
		}
		found[p.ID] = true
	}
	var unknown []string
	for _, id := range scope.ProductIDs {
		if !found[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Validation(map[string]string{"scope.product_ids": "unknown products: " + strings.Join(unknown, ",")})
	}
	return products, nil
}

// snapshotLines freezes expected quantities: one line per non-depleted lot
// of lot-tracked products, one per product otherwise.
func snapshotLines(ctx context.Context, tx store.Tx, products []domain.Product) ([]domain.CountLine, error) {
	var lines []domain.CountLine
	for _, p := range products {
		if p.RequiresLotTracking {
			lots, err := tx.ListLots(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			for _, l := range lots {
				if l.Status == domain.LotStatusDepleted {
					continue
				}
				lotID, lotNumber := l.ID, l.LotNumber
				lines = append(lines, domain.CountLine{
					ProductID:        p.ID,
					LotID:            &lotID,
					LotNumber:        &lotNumber,
					ExpectedQuantity: l.CurrentQuantity,
					UnitCost:         p.UnitCost,
				})
			}
			continue
		}

		onHand, err := tx.OnHand(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.CountLine{
			ProductID:        p.ID,
			ExpectedQuantity: onHand,
			UnitCost:         p.UnitCost,
		})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lotNumber(lines[i]) < lotNumber(lines[j])
	})
	return lines, nil
}

func lotNumber(l domain.CountLine) string {
	if l.LotNumber == nil {
		return ""
	}
	return *l.LotNumber
}

// Start opens a count and snapshots expected quantities. The snapshot is
// read at one point in time without product locks and is not recomputed
// later; drift while counting shows up as difference.
func (s *CountService) Start(ctx context.Context, req StartCountRequest) (*CountDetail, error) {
	if !req.CountType.IsValid() {
		return nil, errors.Validation(map[string]string{"count_type": fmt.Sprintf("unknown count type %q", req.CountType)})
	}
	if err := req.Scope.Validate(req.CountType); err != nil {
		return nil, errors.Validation(map[string]string{"scope": err.Error()})
	}

	var detail CountDetail
	err := s.mutate(database.WithSnapshot(ctx), func(ctx context.Context, tx store.Tx, out *outbox) error {
		products, err := scopeProducts(ctx, tx, req.CountType, req.Scope)
		if err != nil {
			return err
		}
		lines, err := snapshotLines(ctx, tx, products)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return errors.Validation(map[string]string{"scope": "no stock items in scope"})
		}

		now := s.now()
		seq, err := tx.NextCountSequence(ctx, now)
		if err != nil {
			return err
		}
		count := domain.InventoryCount{
			CountNumber:          domain.FormatCountNumber(now, seq),
			CountType:            req.CountType,
			Status:               domain.CountInProgress,
			ScopeCategory:        req.Scope.Category,
			StartedAt:            now,
			StartedBy:            actor.IDFromContext(ctx),
			TotalItems:           len(lines),
			TotalDifferenceValue: decimal.Zero,
			Notes:                req.Notes,
		}
		if err := tx.CreateCount(ctx, &count); err != nil {
			return err
		}
		for i := range lines {
			lines[i].CountID = count.ID
		}
		if err := tx.InsertCountLines(ctx, lines); err != nil {
			return err
		}
		detail = CountDetail{Count: count, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().
		Str("count_id", detail.Count.ID).
		Str("count_number", detail.Count.CountNumber).
		Str("count_type", string(detail.Count.CountType)).
		Int("lines", len(detail.Lines)).
		Msg("inventory count started")
	return &detail, nil
}

// Get returns a count with its lines
func (s *CountService) Get(ctx context.Context, id string) (*CountDetail, error) {
	var detail CountDetail
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		count, err := tx.GetCount(ctx, id)
		if err != nil {
			return err
		}
		lines, err := tx.ListCountLines(ctx, id)
		if err != nil {
			return err
		}
		detail = CountDetail{Count: *count, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func matchLine(lines []domain.CountLine, e CountEntry) int {
	return slices.IndexFunc(lines, func(l domain.CountLine) bool {
		if l.ProductID != e.ProductID {
			return false
		}
		if e.LotID == nil || l.LotID == nil {
			return e.LotID == nil && l.LotID == nil
		}
		return *l.LotID == *e.LotID
	})
}

// inScope reports whether product belongs to the count. Products with a
// line always do; otherwise the scope is re-evaluated for full and
// category counts.
func inScope(count *domain.InventoryCount, lines []domain.CountLine, product *domain.Product) bool {
	if slices.ContainsFunc(lines, func(l domain.CountLine) bool { return l.ProductID == product.ID }) {
		return true
	}
	if !product.TrackStock {
		return false
	}
	switch {
	case count.CountType == domain.CountTypeFull:
		return product.IsActive
	case count.ScopeCategory != nil:
		return product.Category != nil && *product.Category == *count.ScopeCategory
	}
	return false
}

// addLotLine inserts a line for a lot the snapshot left out. Such a lot
// was depleted when the count started or was received later, so its
// expected quantity at StartedAt is zero.
func addLotLine(ctx context.Context, tx store.Tx, count *domain.InventoryCount, lines []domain.CountLine, e CountEntry) (*domain.CountLine, error) {
	product, err := tx.GetProduct(ctx, e.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.RequiresLotTracking || !inScope(count, lines, product) {
		return nil, errors.NotFoundWithKey("count_line").WithDetail("product_id", e.ProductID)
	}
	if e.LotID == nil {
		return nil, domain.LotRequired(product.ID)
	}
	lot, err := tx.GetLot(ctx, *e.LotID)
	if err != nil {
		return nil, err
	}
	if lot.ProductID != product.ID {
		return nil, domain.LotMismatch(product.ID, lot.ID)
	}

	lotID, lotNumber := lot.ID, lot.LotNumber
	added := []domain.CountLine{{
		CountID:          count.ID,
		ProductID:        product.ID,
		LotID:            &lotID,
		LotNumber:        &lotNumber,
		ExpectedQuantity: 0,
		UnitCost:         product.UnitCost,
	}}
	if err := tx.InsertCountLines(ctx, added); err != nil {
		return nil, err
	}
	return &added[0], nil
}

// Record stores counted quantities. Re-recording a line overwrites it;
// itemsCounted only grows on a line's first count. A lot of an in-scope
// product without a line gets one.
func (s *CountService) Record(ctx context.Context, countID string, entries []CountEntry) (*CountDetail, error) {
	if len(entries) == 0 {
		return nil, errors.Validation(map[string]string{"lines": "must not be empty"})
	}
	for _, e := range entries {
		if e.Counted < 0 {
			return nil, errors.Validation(map[string]string{"counted_quantity": "must not be negative"})
		}
	}

	var detail CountDetail
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		count, err := tx.LockCount(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.EnsureRecordable(); err != nil {
			return err
		}
		lines, err := tx.ListCountLines(ctx, countID)
		if err != nil {
			return err
		}

		now := s.now()
		by := actor.IDFromContext(ctx)
		for _, e := range entries {
			i := matchLine(lines, e)
			if i < 0 {
				line, err := addLotLine(ctx, tx, count, lines, e)
				if err != nil {
					return err
				}
				lines = append(lines, *line)
				count.TotalItems++
				i = len(lines) - 1
			}
			if lines[i].Record(e.Counted, by, now) {
				count.ItemsCounted++
			}
			if err := tx.UpdateCountLine(ctx, &lines[i]); err != nil {
				return err
			}
		}

		count.UpdatedAt = now
		if err := tx.UpdateCount(ctx, count); err != nil {
			return err
		}
		detail = CountDetail{Count: *count, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Complete closes counting. Every line must have a counted quantity.
func (s *CountService) Complete(ctx context.Context, countID string) (*domain.InventoryCount, error) {
	var count *domain.InventoryCount
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		count, err = tx.LockCount(ctx, countID)
		if err != nil {
			return err
		}
		lines, err := tx.ListCountLines(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.Complete(lines, s.now()); err != nil {
			return err
		}
		return tx.UpdateCount(ctx, count)
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().
		Str("count_id", count.ID).
		Int("items_with_difference", count.ItemsWithDifference).
		Str("total_difference_value", count.TotalDifferenceValue.StringFixed(2)).
		Msg("inventory count completed")
	return count, nil
}

// lineError names the count line whose correction failed. Stock that moved
// while counting can push a correction past a lot's bounds; such a count
// can only be cancelled and started again.
func lineError(err error, l domain.CountLine) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return err
	}
	appErr.WithDetail("count_line_id", l.ID).WithDetail("product_id", l.ProductID)
	if l.LotID != nil {
		appErr.WithDetail("lot_id", *l.LotID)
	}
	return appErr
}

// Approve posts a count_correction entry for every line with a difference.
// A second approval fails with AlreadyApproved and posts nothing.
func (s *CountService) Approve(ctx context.Context, countID string) (*domain.InventoryCount, error) {
	var (
		count       *domain.InventoryCount
		corrections int
	)
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		count, err = tx.LockCount(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.Approve(actor.IDFromContext(ctx), s.now()); err != nil {
			return err
		}
		lines, err := tx.ListCountLines(ctx, countID)
		if err != nil {
			return err
		}

		var ids []string
		for _, l := range lines {
			if l.Difference != nil && *l.Difference != 0 {
				ids = append(ids, l.ProductID)
			}
		}
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		ref := domain.Reference{Type: domain.ReferenceInventoryCount, ID: count.ID}
		corrections = 0
		for _, l := range lines {
			if l.Difference == nil || *l.Difference == 0 {
				continue
			}
			_, err := s.post(ctx, tx, products[l.ProductID], domain.PostRequest{
				ProductID: l.ProductID,
				LotID:     l.LotID,
				Delta:     *l.Difference,
				Reason:    domain.ReasonCountCorrection,
				Reference: ref,
			}, out)
			if err != nil {
				return lineError(err, l)
			}
			corrections++
		}

		if err := tx.UpdateCount(ctx, count); err != nil {
			return err
		}
		approved := *count
		out.approved = &approved
		out.fixes = corrections
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().
		Str("count_id", count.ID).
		Str("count_number", count.CountNumber).
		Int("corrections", corrections).
		Msg("inventory count approved")
	return count, nil
}

// Cancel ends an in-progress or completed count without ledger effect
func (s *CountService) Cancel(ctx context.Context, countID string) (*domain.InventoryCount, error) {
	var count *domain.InventoryCount
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		count, err = tx.LockCount(ctx, countID)
		if err != nil {
			return err
		}
		if err := count.Cancel(s.now()); err != nil {
			return err
		}
		return tx.UpdateCount(ctx, count)
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}
