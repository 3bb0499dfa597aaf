package service

import (
	"context"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/errors"
)

// staleBatchSize bounds how many reservations one sweep pass releases.
const staleBatchSize = 500

// ReservationService holds and frees stock for scheduled work.
type ReservationService struct {
	*Engine
}

// NewReservationService creates a new reservation service
func NewReservationService(engine *Engine) *ReservationService {
	return &ReservationService{Engine: engine}
}

// ReserveRequest asks for a hold on one product.
type ReserveRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Reference domain.Reference `json:"reference" validate:"required"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (s *ReservationService) validate(req ReserveRequest) error {
	if req.Quantity <= 0 {
		return errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}
	if err := validateReference(req.Reference); err != nil {
		return err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return errors.Validation(map[string]string{"expires_at": "must be in the future"})
	}
	return nil
}

// hold checks availability and inserts the reservation. The caller holds
// the product lock, so concurrent holds on the product see each other.
func (s *ReservationService) hold(ctx context.Context, tx store.Tx, product *domain.Product, req ReserveRequest, out *outbox) (*domain.Reservation, error) {
	if !product.IsActive {
		return nil, domain.ProductInactive(product.ID)
	}
	if product.TrackStock {
		onHand, err := tx.OnHand(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		reserved, err := tx.ReservedActive(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		if onHand-reserved < req.Quantity {
			return nil, domain.InsufficientAvailableStock(product.ID, req.Quantity, onHand, reserved)
		}
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && s.opts.DefaultReservationTTL > 0 {
		t := s.now().Add(s.opts.DefaultReservationTTL)
		expiresAt = &t
	}

	r := &domain.Reservation{
		ProductID:     product.ID,
		Quantity:      req.Quantity,
		ReferenceType: req.Reference.Type,
		ReferenceID:   req.Reference.ID,
		Status:        domain.ReservationActive,
		CreatedAt:     s.now(),
		ExpiresAt:     expiresAt,
		ActorID:       actor.IDFromContext(ctx),
	}
	if err := tx.CreateReservation(ctx, r); err != nil {
		return nil, err
	}
	out.touch(product.ID)
	return r, nil
}

// Reserve places a hold on available stock
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*domain.Reservation, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var r *domain.Reservation
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		r, err = s.hold(ctx, tx, product, req, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().
		Str("reservation_id", r.ID).
		Str("product_id", r.ProductID).
		Int("quantity", r.Quantity).
		Str("reference_type", r.ReferenceType).
		Str("reference_id", r.ReferenceID).
		Msg("stock reserved")
	return r, nil
}

// ReserveAll places every hold or none. All requests must share one
// reference; when active or consumed reservations for it exist they are
// returned unchanged, so a redelivered request does not double-book. A
// reference whose holds were all released is booked again.
func (s *ReservationService) ReserveAll(ctx context.Context, ref domain.Reference, reqs []ReserveRequest) ([]domain.Reservation, error) {
	if len(reqs) == 0 {
		return nil, errors.Validation(map[string]string{"materials": "must not be empty"})
	}
	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		reqs[i].Reference = ref
		if err := s.validate(reqs[i]); err != nil {
			return nil, err
		}
		ids = append(ids, reqs[i].ProductID)
	}

	var held []domain.Reservation
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		existing, err := tx.ListReservationsByReference(ctx, ref)
		if err != nil {
			return err
		}
		if live := unreleased(existing); len(live) > 0 {
			held = live
			return nil
		}

		held = make([]domain.Reservation, 0, len(reqs))
		for _, req := range reqs {
			r, err := s.hold(ctx, tx, products[req.ProductID], req, out)
			if err != nil {
				return err
			}
			held = append(held, *r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

func unreleased(rs []domain.Reservation) []domain.Reservation {
	var out []domain.Reservation
	for _, r := range rs {
		if r.Status != domain.ReservationReleased {
			out = append(out, r)
		}
	}
	return out
}

// Get returns a reservation by ID
func (s *ReservationService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	var r *domain.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		return err
	})
	return r, err
}

// lockReservation locks the reservation's product and re-reads the
// reservation under that lock.
func lockReservation(ctx context.Context, tx store.Tx, id string) (*domain.Product, *domain.Reservation, error) {
	r, err := tx.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	product, err := tx.LockProduct(ctx, r.ProductID)
	if err != nil {
		return nil, nil, err
	}
	r, err = tx.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return product, r, nil
}

// consumeLocked turns an active reservation into consumption entries.
func (s *ReservationService) consumeLocked(ctx context.Context, tx store.Tx, product *domain.Product, r *domain.Reservation, out *outbox) ([]domain.LedgerEntry, error) {
	if err := r.Consume(s.now()); err != nil {
		return nil, err
	}
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	out.touch(product.ID)
	ref := domain.Reference{Type: domain.ReferenceReservation, ID: r.ID}
	return s.consume(ctx, tx, product, r.Quantity, ref, out)
}

// Consume converts the hold into consumption, FEFO across lots. A second
// call fails with AlreadyConsumedOrReleased.
func (s *ReservationService) Consume(ctx context.Context, id string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		product, r, err := lockReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		entries, err = s.consumeLocked(ctx, tx, product, r, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.For(ctx).Info().Str("reservation_id", id).Int("entries", len(entries)).Msg("reservation consumed")
	return entries, nil
}

// Release frees the hold. Releasing a released reservation is a no-op.
func (s *ReservationService) Release(ctx context.Context, id string) (*domain.Reservation, error) {
	var r *domain.Reservation
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		_, r, err = lockReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := r.Release(s.now())
		if err != nil || !changed {
			return err
		}
		out.touch(r.ProductID)
		return tx.UpdateReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ExpireStale releases active reservations whose expiry passed before now.
// Each reservation is released in its own unit of work; a failure is logged
// and the sweep moves on.
func (s *ReservationService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var stale []domain.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		stale, err = tx.ListStaleReservations(ctx, now, staleBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, candidate := range stale {
		out, err := s.commit(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
			_, r, err := lockReservation(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			// Consumed or released since the scan.
			if !r.IsStale(now) {
				return nil
			}
			if _, err := r.Release(now); err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			out.touch(r.ProductID)
			out.expired = append(out.expired, *r)
			return nil
		})
		if err != nil {
			s.logger.For(ctx).Error().Err(err).Str("reservation_id", candidate.ID).Msg("failed to expire reservation")
			continue
		}
		released += len(out.expired)
	}

	if released > 0 {
		s.logger.For(ctx).Info().Int("released", released).Msg("stale reservations released")
	}
	return released, nil
}

// ListByReference lists every reservation held for a reference
func (s *ReservationService) ListByReference(ctx context.Context, ref domain.Reference) ([]domain.Reservation, error) {
	var rs []domain.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rs, err = tx.ListReservationsByReference(ctx, ref)
		return err
	})
	return rs, err
}

// byReference locks the products of the reference's active reservations
// and returns those reservations re-read under the locks.
func byReference(ctx context.Context, tx store.Tx, ref domain.Reference) (map[string]*domain.Product, []domain.Reservation, error) {
	all, err := tx.ListReservationsByReference(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(all))
	for _, r := range all {
		if r.Status == domain.ReservationActive {
			ids = append(ids, r.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	products, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}
	all, err = tx.ListReservationsByReference(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	active := all[:0]
	for _, r := range all {
		if r.Status == domain.ReservationActive {
			active = append(active, r)
		}
	}
	return products, active, nil
}

// ConsumeByReference consumes every active reservation for the reference
// in one unit of work. With nothing active it returns no entries.
func (s *ReservationService) ConsumeByReference(ctx context.Context, ref domain.Reference) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		entries = entries[:0]
		products, active, err := byReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		for i := range active {
			posted, err := s.consumeLocked(ctx, tx, products[active[i].ProductID], &active[i], out)
			if err != nil {
				return err
			}
			entries = append(entries, posted...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReleaseByReference releases every active reservation for the reference
// and returns how many were released.
func (s *ReservationService) ReleaseByReference(ctx context.Context, ref domain.Reference) (int, error) {
	released := 0
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		released = 0
		_, active, err := byReference(ctx, tx, ref)
		if err != nil {
			return err
		}
		for i := range active {
			if _, err := active[i].Release(s.now()); err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, &active[i]); err != nil {
				return err
			}
			out.touch(active[i].ProductID)
			released++
		}
		return nil
	})
	return released, err
}
