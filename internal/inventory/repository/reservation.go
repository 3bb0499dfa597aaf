package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/internal/inventory/domain"
)

const reservationColumns = `id, product_id, quantity, reference_type, reference_id, status,
	created_at, expires_at, resolved_at, actor_id`

// CreateReservation creates a new reservation
func (t *pgTx) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	query := `
		INSERT INTO reservations (
			id, tenant_id, product_id, quantity, reference_type, reference_id, status, expires_at, actor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := t.tx.QueryRowxContext(ctx, query,
		r.ID, t.tenantID, r.ProductID, r.Quantity, r.ReferenceType, r.ReferenceID, r.Status, r.ExpiresAt, r.ActorID,
	).Scan(&r.CreatedAt)
	return mapErr(err)
}

// GetReservation gets a reservation by ID
func (t *pgTx) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var r domain.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if err := t.tx.GetContext(ctx, &r, query, id); err != nil {
		return nil, notFound(err, "reservation")
	}
	return &r, nil
}

// UpdateReservation writes the reservation status
func (t *pgTx) UpdateReservation(ctx context.Context, r *domain.Reservation) error {
	query := `UPDATE reservations SET status = $2, resolved_at = $3 WHERE id = $1`
	res, err := t.tx.ExecContext(ctx, query, r.ID, r.Status, r.ResolvedAt)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, "reservation")
}

// ReservedActive sums the product's active reservations
func (t *pgTx) ReservedActive(ctx context.Context, productID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE product_id = $1 AND status = 'active'`
	if err := t.tx.GetContext(ctx, &total, query, productID); err != nil {
		return 0, err
	}
	return total, nil
}

// ListStaleReservations lists active reservations whose expiry has passed
func (t *pgTx) ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	reservations := []domain.Reservation{}
	query := `
		SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`
	if err := t.tx.SelectContext(ctx, &reservations, query, now, limit); err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListReservationsByReference lists all reservations held for a reference
func (t *pgTx) ListReservationsByReference(ctx context.Context, ref domain.Reference) ([]domain.Reservation, error) {
	reservations := []domain.Reservation{}
	query := `
		SELECT ` + reservationColumns + ` FROM reservations
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at, id
	`
	if err := t.tx.SelectContext(ctx, &reservations, query, ref.Type, ref.ID); err != nil {
		return nil, err
	}
	return reservations, nil
}
