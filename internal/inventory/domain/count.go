package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CountType selects which products a count covers.
type CountType string

const (
	CountTypeFull    CountType = "full"
	CountTypePartial CountType = "partial"
	CountTypeCycle   CountType = "cycle"
	CountTypeSpot    CountType = "spot"
)

// IsValid reports whether t is a known count type.
func (t CountType) IsValid() bool {
	switch t {
	case CountTypeFull, CountTypePartial, CountTypeCycle, CountTypeSpot:
		return true
	}
	return false
}

// CountStatus is the state of an inventory count.
type CountStatus string

const (
	CountInProgress CountStatus = "in_progress"
	CountCompleted  CountStatus = "completed"
	CountApproved   CountStatus = "approved"
	CountCancelled  CountStatus = "cancelled"
)

// CanTransitionTo checks if the status can transition to the target status
func (s CountStatus) CanTransitionTo(target CountStatus) bool {
	switch s {
	case CountInProgress:
		return target == CountCompleted || target == CountCancelled
	case CountCompleted:
		return target == CountApproved || target == CountCancelled
	case CountApproved, CountCancelled:
		return false
	}
	return false
}

// CountScope limits partial, cycle and spot counts. Full counts ignore it.
type CountScope struct {
	ProductIDs []string `json:"product_ids,omitempty"`
	Category   *string  `json:"category,omitempty"`
}

// Validate checks that the scope fits the count type.
func (s CountScope) Validate(t CountType) error {
	switch t {
	case CountTypeFull:
		return nil
	case CountTypeSpot:
		if len(s.ProductIDs) == 0 {
			return fmt.Errorf("spot count requires product_ids")
		}
	case CountTypePartial, CountTypeCycle:
		if len(s.ProductIDs) == 0 && s.Category == nil {
			return fmt.Errorf("%s count requires product_ids or category", t)
		}
	default:
		return fmt.Errorf("unknown count type %q", t)
	}
	return nil
}

// InventoryCount is a physical count session.
type InventoryCount struct {
	ID                   string          `db:"id" json:"id"`
	CountNumber          string          `db:"count_number" json:"count_number"`
	CountType            CountType       `db:"count_type" json:"count_type"`
	Status               CountStatus     `db:"status" json:"status"`
	ScopeCategory        *string         `db:"scope_category" json:"scope_category,omitempty"`
	StartedAt            time.Time       `db:"started_at" json:"started_at"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ApprovedAt           *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CancelledAt          *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	StartedBy            string          `db:"started_by" json:"started_by"`
	ApprovedBy           *string         `db:"approved_by" json:"approved_by,omitempty"`
	TotalItems           int             `db:"total_items" json:"total_items"`
	ItemsCounted         int             `db:"items_counted" json:"items_counted"`
	ItemsWithDifference  int             `db:"items_with_difference" json:"items_with_difference"`
	TotalDifferenceValue decimal.Decimal `db:"total_difference_value" json:"total_difference_value"`
	Notes                *string         `db:"notes" json:"notes,omitempty"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// CountLine is one product, or one lot of a lot-tracked product, in a count.
// ExpectedQuantity is frozen when the count starts.
type CountLine struct {
	ID               string          `db:"id" json:"id"`
	CountID          string          `db:"count_id" json:"count_id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	LotID            *string         `db:"lot_id" json:"lot_id,omitempty"`
	LotNumber        *string         `db:"lot_number" json:"lot_number,omitempty"`
	ExpectedQuantity int             `db:"expected_quantity" json:"expected_quantity"`
	CountedQuantity  *int            `db:"counted_quantity" json:"counted_quantity,omitempty"`
	Difference       *int            `db:"difference" json:"difference,omitempty"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	CountedAt        *time.Time      `db:"counted_at" json:"counted_at,omitempty"`
	CountedBy        *string         `db:"counted_by" json:"counted_by,omitempty"`
}

// Counted reports whether the line has a recorded quantity.
func (l *CountLine) Counted() bool {
	return l.CountedQuantity != nil
}

// Record stores a counted quantity. It reports whether this was the first
// count for the line.
func (l *CountLine) Record(counted int, actorID string, now time.Time) bool {
	first := l.CountedQuantity == nil
	diff := counted - l.ExpectedQuantity
	l.CountedQuantity = &counted
	l.Difference = &diff
	l.CountedAt = &now
	l.CountedBy = &actorID
	return first
}

// DifferenceValue is difference times unit cost, zero while uncounted.
func (l *CountLine) DifferenceValue() decimal.Decimal {
	if l.Difference == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(*l.Difference)).Mul(l.UnitCost)
}

// CountSummary aggregates a count's lines.
type CountSummary struct {
	ItemsCounted         int
	ItemsWithDifference  int
	TotalDifferenceValue decimal.Decimal
	MissingProductIDs    []string
}

// Summarize aggregates lines. Missing product IDs are deduplicated and keep
// line order.
func Summarize(lines []CountLine) CountSummary {
	sum := CountSummary{TotalDifferenceValue: decimal.Zero}
	seen := make(map[string]bool)
	for i := range lines {
		l := &lines[i]
		if !l.Counted() {
			if !seen[l.ProductID] {
				seen[l.ProductID] = true
				sum.MissingProductIDs = append(sum.MissingProductIDs, l.ProductID)
			}
			continue
		}
		sum.ItemsCounted++
		if *l.Difference != 0 {
			sum.ItemsWithDifference++
			sum.TotalDifferenceValue = sum.TotalDifferenceValue.Add(l.DifferenceValue())
		}
	}
	return sum
}

// EnsureRecordable fails unless counts may still be recorded.
func (c *InventoryCount) EnsureRecordable() error {
	if c.Status != CountInProgress {
		return CountNotInProgress(c.ID, c.Status)
	}
	return nil
}

// Complete moves the count to completed and stores the aggregates. Every
// line must be counted.
func (c *InventoryCount) Complete(lines []CountLine, now time.Time) error {
	if c.Status != CountInProgress {
		return CountNotInProgress(c.ID, c.Status)
	}
	sum := Summarize(lines)
	if len(sum.MissingProductIDs) > 0 {
		return IncompleteCount(c.ID, sum.MissingProductIDs)
	}
	c.Status = CountCompleted
	c.CompletedAt = &now
	c.TotalItems = len(lines)
	c.ItemsCounted = sum.ItemsCounted
	c.ItemsWithDifference = sum.ItemsWithDifference
	c.TotalDifferenceValue = sum.TotalDifferenceValue
	c.UpdatedAt = now
	return nil
}

// Approve moves a completed count to approved.
func (c *InventoryCount) Approve(actorID string, now time.Time) error {
	switch {
	case c.Status == CountApproved:
		return AlreadyApproved(c.ID)
	case !c.Status.CanTransitionTo(CountApproved):
		return InvalidCountTransition(c.ID, c.Status, CountApproved)
	}
	c.Status = CountApproved
	c.ApprovedAt = &now
	c.ApprovedBy = &actorID
	c.UpdatedAt = now
	return nil
}

// Cancel ends an in-progress or completed count without ledger effect.
func (c *InventoryCount) Cancel(now time.Time) error {
	if !c.Status.CanTransitionTo(CountCancelled) {
		return InvalidCountTransition(c.ID, c.Status, CountCancelled)
	}
	c.Status = CountCancelled
	c.CancelledAt = &now
	c.UpdatedAt = now
	return nil
}

// FormatCountNumber renders the human-facing count number.
func FormatCountNumber(day time.Time, seq int) string {
	return fmt.Sprintf("CNT-%s-%04d", day.UTC().Format("20060102"), seq)
}
