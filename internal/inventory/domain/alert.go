package domain

import (
	"time"
)

// AlertType is the stock condition an alert was raised for.
type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertOutOfStock AlertType = "out_of_stock"
)

// AlertTypeFor maps a stock status to the alert it raises, if any.
func AlertTypeFor(status StockStatus) (AlertType, bool) {
	switch status {
	case StockStatusLowStock:
		return AlertLowStock, true
	case StockStatusOutOfStock:
		return AlertOutOfStock, true
	}
	return "", false
}

// AlertStatus is the alert lifecycle. Open and acknowledged alerts are
// unresolved and block a duplicate for the same product and type.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert records that a stock alert was raised.
type Alert struct {
	ID                       string      `db:"id" json:"id"`
	ProductID                string      `db:"product_id" json:"product_id"`
	Type                     AlertType   `db:"type" json:"type"`
	Status                   AlertStatus `db:"status" json:"status"`
	CurrentStock             int         `db:"current_stock" json:"current_stock"`
	Available                int         `db:"available" json:"available"`
	MinStock                 int         `db:"min_stock" json:"min_stock"`
	SuggestedReorderQuantity int         `db:"suggested_reorder_quantity" json:"suggested_reorder_quantity"`
	CreatedAt                time.Time   `db:"created_at" json:"created_at"`
	AcknowledgedAt           *time.Time  `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy           *string     `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedAt               *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Unresolved reports whether the alert still blocks duplicates.
func (a *Alert) Unresolved() bool {
	return a.Status != AlertResolved
}

// AlertEvent is what the notification collaborator receives.
type AlertEvent struct {
	AlertID                  string    `json:"alert_id"`
	ProductID                string    `json:"product_id"`
	ProductName              string    `json:"product_name,omitempty"`
	Type                     AlertType `json:"type"`
	CurrentStock             int       `json:"current_stock"`
	Available                int       `json:"available"`
	MinStock                 int       `json:"min_stock"`
	SuggestedReorderQuantity int       `json:"suggested_reorder_quantity,omitempty"`
}

// Event converts a stored alert to its event form.
func (a *Alert) Event(productName string) AlertEvent {
	return AlertEvent{
		AlertID:                  a.ID,
		ProductID:                a.ProductID,
		ProductName:              productName,
		Type:                     a.Type,
		CurrentStock:             a.CurrentStock,
		Available:                a.Available,
		MinStock:                 a.MinStock,
		SuggestedReorderQuantity: a.SuggestedReorderQuantity,
	}
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	ProductID  *string
	Status     *AlertStatus
	Unresolved bool
	Limit      int
	Offset     int
}
