package domain

import (
	"sort"
	"time"
)

// LotStatus is derived from remaining quantity and expiry, except for
// quarantine which is set and cleared by an operator.
type LotStatus string

const (
	LotStatusActive     LotStatus = "active"
	LotStatusLow        LotStatus = "low"
	LotStatusExpired    LotStatus = "expired"
	LotStatusDepleted   LotStatus = "depleted"
	LotStatusQuarantine LotStatus = "quarantine"
)

// DefaultLowLotFraction marks a lot low once its remaining quantity is at
// or below this share of the received quantity.
const DefaultLowLotFraction = 0.2

// Lot is one received batch of a lot-tracked product. CurrentQuantity is a
// materialization of the ledger: the sum of all entries referencing the lot,
// receipt included. It is only written by the ledger posting path.
type Lot struct {
	ID              string     `db:"id" json:"id"`
	ProductID       string     `db:"product_id" json:"product_id"`
	LotNumber       string     `db:"lot_number" json:"lot_number"`
	InitialQuantity int        `db:"initial_quantity" json:"initial_quantity"`
	CurrentQuantity int        `db:"current_quantity" json:"current_quantity"`
	ExpiryDate      *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	ReceivedDate    time.Time  `db:"received_date" json:"received_date"`
	Status          LotStatus  `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the lot's expiry instant has been reached.
func (l *Lot) IsExpired(now time.Time) bool {
	return l.ExpiryDate != nil && !now.Before(*l.ExpiryDate)
}

// DeriveLotStatus computes a lot's status. Precedence: depleted, quarantine,
// expired, low, active. Quarantine is kept from the current status.
func DeriveLotStatus(current, initial int, expiry *time.Time, currentStatus LotStatus, now time.Time, lowFraction float64) LotStatus {
	switch {
	case current <= 0:
		return LotStatusDepleted
	case currentStatus == LotStatusQuarantine:
		return LotStatusQuarantine
	case expiry != nil && !now.Before(*expiry):
		return LotStatusExpired
	case initial > 0 && float64(current) <= lowFraction*float64(initial):
		return LotStatusLow
	default:
		return LotStatusActive
	}
}

// Refresh recomputes the lot's status in place and reports whether it changed.
func (l *Lot) Refresh(now time.Time, lowFraction float64) bool {
	next := DeriveLotStatus(l.CurrentQuantity, l.InitialQuantity, l.ExpiryDate, l.Status, now, lowFraction)
	changed := next != l.Status
	l.Status = next
	return changed
}

// Allocatable reports whether FEFO may draw from the lot.
func (l *Lot) Allocatable(now time.Time) bool {
	if l.CurrentQuantity <= 0 || l.IsExpired(now) {
		return false
	}
	return l.Status == LotStatusActive || l.Status == LotStatusLow
}

// LotAllocation is the quantity to take from one lot.
type LotAllocation struct {
	LotID      string     `json:"lot_id"`
	LotNumber  string     `json:"lot_number"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// SortFEFO orders lots by expiry ascending with undated lots last. Ties
// fall back to receipt date, then lot number.
func SortFEFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		case !a.ReceivedDate.Equal(b.ReceivedDate):
			return a.ReceivedDate.Before(b.ReceivedDate)
		default:
			return a.LotNumber < b.LotNumber
		}
	})
}

// AllocateFEFO splits quantity across allocatable lots, soonest expiry
// first. It returns the allocations and the allocatable total; when that
// total is below quantity the allocations are nil and the caller reports
// the shortfall.
func AllocateFEFO(lots []Lot, quantity int, now time.Time) ([]LotAllocation, int) {
	usable := make([]Lot, 0, len(lots))
	total := 0
	for _, l := range lots {
		if l.Allocatable(now) {
			usable = append(usable, l)
			total += l.CurrentQuantity
		}
	}
	if total < quantity {
		return nil, total
	}

	SortFEFO(usable)

	var allocations []LotAllocation
	remaining := quantity
	for _, l := range usable {
		if remaining == 0 {
			break
		}
		take := min(l.CurrentQuantity, remaining)
		allocations = append(allocations, LotAllocation{
			LotID:      l.ID,
			LotNumber:  l.LotNumber,
			Quantity:   take,
			ExpiryDate: l.ExpiryDate,
		})
		remaining -= take
	}
	return allocations, total
}
