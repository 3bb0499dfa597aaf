package service

import (
	"context"
	"strings"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/errors"
)

// LedgerService posts quantity changes and answers stock questions. It is
// the only writer of lot quantities.
type LedgerService struct {
	*Engine
}

// NewLedgerService creates a new ledger service
func NewLedgerService(engine *Engine) *LedgerService {
	return &LedgerService{Engine: engine}
}

// ReceiveLotRequest describes a received lot
type ReceiveLotRequest struct {
	ProductID    string
	LotNumber    string `validate:"required,max=100"`
	Quantity     int    `validate:"gt=0"`
	ExpiryDate   *time.Time
	ReceivedDate *time.Time
	Reference    *domain.Reference
}

func validateReference(ref domain.Reference) error {
	details := map[string]string{}
	if strings.TrimSpace(ref.Type) == "" {
		details["reference.type"] = "is required"
	}
	if strings.TrimSpace(ref.ID) == "" {
		details["reference.id"] = "is required"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// post appends one entry and updates the lot it references. The caller must
// hold the product lock.
func (e *Engine) post(ctx context.Context, tx store.Tx, product *domain.Product, req domain.PostRequest, out *outbox) (*domain.LedgerEntry, error) {
	if !product.TrackStock {
		return nil, domain.NotTracked(product.ID)
	}
	if req.Delta == 0 {
		return nil, errors.Validation(map[string]string{"delta": "must not be zero"})
	}
	if !req.Reason.IsValid() {
		return nil, errors.Validation(map[string]string{"reason": "unknown reason " + string(req.Reason)})
	}
	if err := validateReference(req.Reference); err != nil {
		return nil, err
	}
	if product.RequiresLotTracking && req.LotID == nil {
		return nil, domain.LotRequired(product.ID)
	}

	onHand, err := tx.OnHand(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	var lot *domain.Lot
	if req.LotID != nil {
		lot, err = tx.GetLot(ctx, *req.LotID)
		if err != nil {
			return nil, err
		}
		if lot.ProductID != product.ID {
			return nil, domain.LotMismatch(product.ID, lot.ID)
		}
		next := lot.CurrentQuantity + req.Delta
		if next < 0 {
			return nil, domain.InvalidDelta(product.ID, req.LotID, req.Delta, lot.CurrentQuantity)
		}
		if next > lot.InitialQuantity {
			return nil, domain.ExceedsLotCapacity(product.ID, lot.ID, req.Delta, lot.CurrentQuantity, lot.InitialQuantity)
		}
	} else if onHand+req.Delta < 0 {
		return nil, domain.InvalidDelta(product.ID, nil, req.Delta, onHand)
	}

	entry := &domain.LedgerEntry{
		ProductID:     product.ID,
		LotID:         req.LotID,
		Delta:         req.Delta,
		Reason:        req.Reason,
		ReferenceType: req.Reference.Type,
		ReferenceID:   req.Reference.ID,
		OccurredAt:    e.now(),
		ActorID:       actor.IDFromContext(ctx),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	if lot != nil {
		lot.CurrentQuantity += req.Delta
		lot.Refresh(e.now(), e.opts.LowLotFraction)
		if err := tx.SaveLot(ctx, lot); err != nil {
			return nil, err
		}
	}

	out.entries = append(out.entries, postedEntry{entry: *entry, onHand: onHand + req.Delta})
	out.touch(product.ID)
	return entry, nil
}

// consume draws quantity from the product, FEFO across lots for lot-tracked
// products. Products without stock tracking are consumed without a ledger
// effect. The caller must hold the product lock.
func (e *Engine) consume(ctx context.Context, tx store.Tx, product *domain.Product, quantity int, ref domain.Reference, out *outbox) ([]domain.LedgerEntry, error) {
	if !product.TrackStock {
		return []domain.LedgerEntry{}, nil
	}

	var allocations []domain.LotAllocation
	if product.RequiresLotTracking {
		var err error
		allocations, err = e.allocate(ctx, tx, product, quantity)
		if err != nil {
			return nil, err
		}
	} else {
		onHand, err := tx.OnHand(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		if onHand < quantity {
			return nil, domain.InsufficientStock(product.ID, quantity, onHand, onHand)
		}
		allocations = []domain.LotAllocation{{Quantity: quantity}}
	}

	entries := make([]domain.LedgerEntry, 0, len(allocations))
	for _, a := range allocations {
		req := domain.PostRequest{
			ProductID: product.ID,
			Delta:     -a.Quantity,
			Reason:    domain.ReasonConsumption,
			Reference: ref,
		}
		if a.LotID != "" {
			lotID := a.LotID
			req.LotID = &lotID
		}
		entry, err := e.post(ctx, tx, product, req, out)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// allocate runs FEFO over the product's lots.
func (e *Engine) allocate(ctx context.Context, tx store.Tx, product *domain.Product, quantity int) ([]domain.LotAllocation, error) {
	lots, err := tx.ListLots(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	allocations, allocatable := domain.AllocateFEFO(lots, quantity, e.now())
	if allocations == nil {
		onHand, err := tx.OnHand(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		return nil, domain.InsufficientStock(product.ID, quantity, allocatable, onHand)
	}
	return allocations, nil
}

// PostEntry appends a ledger entry and updates the referenced lot atomically
func (s *LedgerService) PostEntry(ctx context.Context, req domain.PostRequest) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if req.Reason == domain.ReasonReceipt && !product.IsActive {
			return domain.ProductInactive(product.ID)
		}
		entry, err = s.post(ctx, tx, product, req, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().
		Str("product_id", entry.ProductID).
		Str("entry_id", entry.ID).
		Int("delta", entry.Delta).
		Str("reason", string(entry.Reason)).
		Msg("ledger entry posted")
	return entry, nil
}

// GetOnHand returns the ledger sum for a product. For lot-tracked products
// the lot total is compared and a mismatch is logged.
func (s *LedgerService) GetOnHand(ctx context.Context, productID string) (int, error) {
	var onHand int
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		onHand, err = tx.OnHand(ctx, productID)
		if err != nil {
			return err
		}
		if !product.RequiresLotTracking {
			return nil
		}
		lots, err := tx.ListLots(ctx, productID)
		if err != nil {
			return err
		}
		lotTotal := 0
		for _, l := range lots {
			lotTotal += l.CurrentQuantity
		}
		if lotTotal != onHand {
			s.logger.For(ctx).Error().
				Str("product_id", productID).
				Int("on_hand", onHand).
				Int("lot_total", lotTotal).
				Msg("lot quantities drifted from ledger")
		}
		return nil
	})
	return onHand, err
}

// SelectLotForConsumption previews the FEFO allocation for a quantity
func (s *LedgerService) SelectLotForConsumption(ctx context.Context, productID string, quantity int) ([]domain.LotAllocation, error) {
	if quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	var allocations []domain.LotAllocation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.TrackStock {
			return domain.NotTracked(productID)
		}
		if !product.RequiresLotTracking {
			return errors.BadRequest("product is not lot-tracked")
		}
		allocations, err = s.allocate(ctx, tx, product, quantity)
		return err
	})
	return allocations, err
}

// ReceiveLot creates a lot and posts its receipt. The lot starts empty and
// gets its quantity from the receipt entry, like every other change.
func (s *LedgerService) ReceiveLot(ctx context.Context, req ReceiveLotRequest) (*domain.Lot, *domain.LedgerEntry, error) {
	if req.Quantity <= 0 {
		return nil, nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	if strings.TrimSpace(req.LotNumber) == "" {
		return nil, nil, errors.Validation(map[string]string{"lot_number": "is required"})
	}

	var (
		lot   *domain.Lot
		entry *domain.LedgerEntry
	)
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return domain.ProductInactive(product.ID)
		}
		if !product.TrackStock {
			return domain.NotTracked(product.ID)
		}
		if !product.RequiresLotTracking {
			return errors.BadRequest("product is not lot-tracked; post a receipt entry instead")
		}

		received := s.now()
		if req.ReceivedDate != nil {
			received = req.ReceivedDate.UTC()
		}
		lot = &domain.Lot{
			ProductID:       product.ID,
			LotNumber:       strings.TrimSpace(req.LotNumber),
			InitialQuantity: req.Quantity,
			ExpiryDate:      req.ExpiryDate,
			ReceivedDate:    received,
			Status:          domain.LotStatusDepleted,
		}
		if err := tx.CreateLot(ctx, lot); err != nil {
			return err
		}

		ref := domain.Reference{Type: domain.ReferenceLotReceipt, ID: lot.ID}
		if req.Reference != nil {
			ref = *req.Reference
		}
		entry, err = s.post(ctx, tx, product, domain.PostRequest{
			ProductID: product.ID,
			LotID:     &lot.ID,
			Delta:     req.Quantity,
			Reason:    domain.ReasonReceipt,
			Reference: ref,
		}, out)
		if err != nil {
			return err
		}
		lot, err = tx.GetLot(ctx, lot.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.For(ctx).Info().
		Str("product_id", lot.ProductID).
		Str("lot_id", lot.ID).
		Str("lot_number", lot.LotNumber).
		Int("quantity", lot.InitialQuantity).
		Msg("lot received")
	return lot, entry, nil
}

// ConsumeDirect consumes stock without a prior reservation. It may not eat
// into stock other callers hold reservations for.
func (s *LedgerService) ConsumeDirect(ctx context.Context, productID string, quantity int, ref domain.Reference) ([]domain.LedgerEntry, error) {
	if quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	if err := validateReference(ref); err != nil {
		return nil, err
	}

	var entries []domain.LedgerEntry
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		product, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return domain.ProductInactive(product.ID)
		}
		if product.TrackStock {
			onHand, err := tx.OnHand(ctx, productID)
			if err != nil {
				return err
			}
			reserved, err := tx.ReservedActive(ctx, productID)
			if err != nil {
				return err
			}
			if onHand-reserved < quantity {
				return domain.InsufficientAvailableStock(productID, quantity, onHand, reserved)
			}
		}
		entries, err = s.consume(ctx, tx, product, quantity, ref, out)
		return err
	})
	return entries, err
}

// GetStockLevel returns on-hand, reserved, available and status, served
// from the cache when possible.
func (s *LedgerService) GetStockLevel(ctx context.Context, productID string) (*domain.StockLevel, error) {
	generation := int64(-1)
	if s.cache != nil {
		if level, ok := s.cache.Get(ctx, productID); ok {
			return level, nil
		}
		generation = s.cache.Generation(ctx, productID)
	}

	var level domain.StockLevel
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		onHand, err := tx.OnHand(ctx, productID)
		if err != nil {
			return err
		}
		reserved, err := tx.ReservedActive(ctx, productID)
		if err != nil {
			return err
		}
		var lots []domain.Lot
		if product.RequiresLotTracking {
			if lots, err = tx.ListLots(ctx, productID); err != nil {
				return err
			}
		}
		level = domain.NewStockLevel(product, onHand, reserved, lots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, &level, generation)
	}
	return &level, nil
}

// Reconcile compares the ledger with the materialized lot quantities
func (s *LedgerService) Reconcile(ctx context.Context, productID string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		onHand, err := tx.OnHand(ctx, productID)
		if err != nil {
			return err
		}
		lots, err := tx.ListLots(ctx, productID)
		if err != nil {
			return err
		}
		byLot, err := tx.LedgerByLot(ctx, productID)
		if err != nil {
			return err
		}
		rec = domain.Reconcile(product, onHand, lots, byLot)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		s.logger.For(ctx).Error().
			Str("product_id", productID).
			Int("on_hand", rec.OnHand).
			Int("lot_total", rec.LotTotal).
			Int("drifted_lots", len(rec.Drift)).
			Msg("reconciliation failed")
	}
	return &rec, nil
}

// ListEntries lists ledger entries
func (s *LedgerService) ListEntries(ctx context.Context, f store.LedgerFilter) ([]domain.LedgerEntry, int, error) {
	var (
		entries []domain.LedgerEntry
		total   int
	)
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		if f.ProductID != "" {
			if _, err := tx.GetProduct(ctx, f.ProductID); err != nil {
				return err
			}
		}
		var err error
		entries, total, err = tx.ListEntries(ctx, f)
		return err
	})
	return entries, total, err
}

// ListLots lists a product's lots in FEFO order, expired and depleted included
func (s *LedgerService) ListLots(ctx context.Context, productID string) ([]domain.Lot, error) {
	var lots []domain.Lot
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		lots, err = tx.ListLots(ctx, productID)
		return err
	})
	return lots, err
}

// QuarantineLot blocks a lot from FEFO allocation
func (s *LedgerService) QuarantineLot(ctx context.Context, lotID string) (*domain.Lot, error) {
	return s.setQuarantine(ctx, lotID, true)
}

// ReleaseQuarantine returns a quarantined lot to its derived status
func (s *LedgerService) ReleaseQuarantine(ctx context.Context, lotID string) (*domain.Lot, error) {
	return s.setQuarantine(ctx, lotID, false)
}

func (s *LedgerService) setQuarantine(ctx context.Context, lotID string, quarantine bool) (*domain.Lot, error) {
	var lot *domain.Lot
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		l, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if _, err := tx.LockProduct(ctx, l.ProductID); err != nil {
			return err
		}
		// Re-read under the product lock.
		if lot, err = tx.GetLot(ctx, lotID); err != nil {
			return err
		}

		switch {
		case quarantine && lot.Status == domain.LotStatusDepleted:
			return errors.Unprocessable("a depleted lot cannot be quarantined")
		case quarantine:
			lot.Status = domain.LotStatusQuarantine
		case lot.Status != domain.LotStatusQuarantine:
			return nil
		default:
			lot.Status = domain.LotStatusActive
			lot.Refresh(s.now(), s.opts.LowLotFraction)
		}
		out.touch(lot.ProductID)
		return tx.SaveLot(ctx, lot)
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().Str("lot_id", lot.ID).Str("status", string(lot.Status)).Msg("lot quarantine changed")
	return lot, nil
}

// RefreshLotStatuses recomputes time dependent lot status for the tenant in
// ctx and returns how many lots changed.
func (s *LedgerService) RefreshLotStatuses(ctx context.Context) (int, error) {
	var products []domain.Product
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		products, _, err = tx.ListProducts(ctx, domain.ProductFilter{TrackedOnly: true})
		return err
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, p := range products {
		if !p.RequiresLotTracking {
			continue
		}
		n := 0
		err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
			n = 0
			if _, err := tx.LockProduct(ctx, p.ID); err != nil {
				return err
			}
			lots, err := tx.ListLots(ctx, p.ID)
			if err != nil {
				return err
			}
			for i := range lots {
				if lots[i].Refresh(s.now(), s.opts.LowLotFraction) {
					if err := tx.SaveLot(ctx, &lots[i]); err != nil {
						return err
					}
					out.touch(p.ID)
					n++
				}
			}
			return nil
		})
		if err != nil {
			s.logger.For(ctx).Error().Err(err).Str("product_id", p.ID).Msg("failed to refresh lot statuses")
			continue
		}
		changed += n
	}
	return changed, nil
}
