// Package store defines the persistence contract of the stock engine.
//
// All reads and writes happen inside Store.Atomic. Every mutating
// operation first locks the product row with LockProduct; concurrent
// writers on the same product therefore serialize, while different
// products proceed in parallel. Implementations derive the tenant from
// the context and must never return another tenant's rows.
package store

import (
	"context"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
)

// Store opens tenant-scoped units of work.
type Store interface {
	// Atomic runs fn in one transaction. A returned error rolls back every
	// write made through tx.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Tenants lists tenants that have stock data, for background sweeps.
	Tenants(ctx context.Context) ([]string, error)
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ProductID     string
	LotID         *string
	ReferenceType *string
	ReferenceID   *string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// Tx is a unit of work. Get* methods return a NotFound AppError for
// missing rows.
type Tx interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// LockProduct returns the product and holds its row lock until the
	// unit of work ends.
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int, error)

	CreateLot(ctx context.Context, l *domain.Lot) error
	GetLot(ctx context.Context, id string) (*domain.Lot, error)
	ListLots(ctx context.Context, productID string) ([]domain.Lot, error)
	// SaveLot writes current quantity and status.
	SaveLot(ctx context.Context, l *domain.Lot) error

	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	OnHand(ctx context.Context, productID string) (int, error)
	LedgerByLot(ctx context.Context, productID string) (map[string]int, error)
	ListEntries(ctx context.Context, f LedgerFilter) ([]domain.LedgerEntry, int, error)

	CreateReservation(ctx context.Context, r *domain.Reservation) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	UpdateReservation(ctx context.Context, r *domain.Reservation) error
	ReservedActive(ctx context.Context, productID string) (int, error)
	ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	ListReservationsByReference(ctx context.Context, ref domain.Reference) ([]domain.Reservation, error)

	NextCountSequence(ctx context.Context, day time.Time) (int, error)
	CreateCount(ctx context.Context, c *domain.InventoryCount) error
	GetCount(ctx context.Context, id string) (*domain.InventoryCount, error)
	// LockCount returns the count and holds its row lock.
	LockCount(ctx context.Context, id string) (*domain.InventoryCount, error)
	UpdateCount(ctx context.Context, c *domain.InventoryCount) error
	InsertCountLines(ctx context.Context, lines []domain.CountLine) error
	ListCountLines(ctx context.Context, countID string) ([]domain.CountLine, error)
	UpdateCountLine(ctx context.Context, l *domain.CountLine) error

	// FindUnresolvedAlert returns nil without error when no open or
	// acknowledged alert exists for the product and type.
	FindUnresolvedAlert(ctx context.Context, productID string, t domain.AlertType) (*domain.Alert, error)
	CreateAlert(ctx context.Context, a *domain.Alert) error
	GetAlert(ctx context.Context, id string) (*domain.Alert, error)
	UpdateAlert(ctx context.Context, a *domain.Alert) error
	ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, int, error)
}
