package domain

import (
	"time"
)

// ReservationStatus tracks a hold's lifecycle: active, then consumed or released.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is a soft hold. It lowers available stock without touching
// on-hand until consumed.
type Reservation struct {
	ID            string            `db:"id" json:"id"`
	ProductID     string            `db:"product_id" json:"product_id"`
	Quantity      int               `db:"quantity" json:"quantity"`
	ReferenceType string            `db:"reference_type" json:"reference_type"`
	ReferenceID   string            `db:"reference_id" json:"reference_id"`
	Status        ReservationStatus `db:"status" json:"status"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	ExpiresAt     *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	ResolvedAt    *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	ActorID       string            `db:"actor_id" json:"actor_id"`
}

// IsStale reports whether an active reservation's expiry has passed.
func (r *Reservation) IsStale(now time.Time) bool {
	return r.Status == ReservationActive && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Consume marks the reservation consumed. Only active reservations can be
// consumed.
func (r *Reservation) Consume(now time.Time) error {
	if r.Status != ReservationActive {
		return AlreadyConsumedOrReleased(r.ID, r.Status)
	}
	r.Status = ReservationConsumed
	r.ResolvedAt = &now
	return nil
}

// Release marks the reservation released. It reports false when the
// reservation was already released, which callers treat as a no-op. A
// consumed reservation cannot be released.
func (r *Reservation) Release(now time.Time) (bool, error) {
	switch r.Status {
	case ReservationReleased:
		return false, nil
	case ReservationConsumed:
		return false, AlreadyConsumedOrReleased(r.ID, r.Status)
	}
	r.Status = ReservationReleased
	r.ResolvedAt = &now
	return true, nil
}
