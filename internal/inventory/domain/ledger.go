package domain

import (
	"time"
)

// Reason classifies a ledger entry.
type Reason string

const (
	ReasonReceipt            Reason = "receipt"
	ReasonConsumption        Reason = "consumption"
	ReasonAdjustment         Reason = "adjustment"
	ReasonCountCorrection    Reason = "count_correction"
	ReasonReservationRelease Reason = "reservation_release"
)

// IsValid reports whether r is a known reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonReceipt, ReasonConsumption, ReasonAdjustment, ReasonCountCorrection, ReasonReservationRelease:
		return true
	}
	return false
}

// Reference types used by the engine itself.
const (
	ReferenceReservation    = "reservation"
	ReferenceInventoryCount = "inventory_count"
	ReferenceLotReceipt     = "lot_receipt"
	ReferenceTreatment      = "treatment_session"
	ReferenceManual         = "manual"
)

// Reference points at the operation that caused a ledger entry or holds a
// reservation, e.g. a treatment session or an inventory count.
type Reference struct {
	Type string `json:"type" validate:"required,max=64"`
	ID   string `json:"id" validate:"required,max=128"`
}

// LedgerEntry is an immutable quantity change. On-hand for a product is the
// sum of its entries' deltas.
type LedgerEntry struct {
	ID            string    `db:"id" json:"id"`
	ProductID     string    `db:"product_id" json:"product_id"`
	LotID         *string   `db:"lot_id" json:"lot_id,omitempty"`
	Delta         int       `db:"delta" json:"delta"`
	Reason        Reason    `db:"reason" json:"reason"`
	ReferenceType string    `db:"reference_type" json:"reference_type"`
	ReferenceID   string    `db:"reference_id" json:"reference_id"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurred_at"`
	ActorID       string    `db:"actor_id" json:"actor_id"`
}

// Reference returns the entry's reference.
func (e *LedgerEntry) Reference() Reference {
	return Reference{Type: e.ReferenceType, ID: e.ReferenceID}
}

// PostRequest is the input to a ledger posting.
type PostRequest struct {
	ProductID string
	LotID     *string
	Delta     int
	Reason    Reason
	Reference Reference
}

// LotDrift is a lot whose materialized quantity disagrees with its ledger sum.
type LotDrift struct {
	LotID        string `json:"lot_id"`
	LotNumber    string `json:"lot_number"`
	Materialized int    `json:"materialized"`
	LedgerSum    int    `json:"ledger_sum"`
}

// Reconciliation compares a product's ledger with its materialized lots.
type Reconciliation struct {
	ProductID  string     `json:"product_id"`
	OnHand     int        `json:"on_hand"`
	LotTotal   int        `json:"lot_total"`
	LotTracked bool       `json:"lot_tracked"`
	Drift      []LotDrift `json:"drift,omitempty"`
	Consistent bool       `json:"consistent"`
}

// Reconcile builds the comparison from the ledger sums.
func Reconcile(p *Product, onHand int, lots []Lot, ledgerByLot map[string]int) Reconciliation {
	rec := Reconciliation{
		ProductID:  p.ID,
		OnHand:     onHand,
		LotTracked: p.RequiresLotTracking,
	}
	for _, l := range lots {
		rec.LotTotal += l.CurrentQuantity
		if sum := ledgerByLot[l.ID]; sum != l.CurrentQuantity {
			rec.Drift = append(rec.Drift, LotDrift{
				LotID:        l.ID,
				LotNumber:    l.LotNumber,
				Materialized: l.CurrentQuantity,
				LedgerSum:    sum,
			})
		}
	}
	rec.Consistent = len(rec.Drift) == 0 && (!p.RequiresLotTracking || rec.LotTotal == onHand)
	return rec
}
