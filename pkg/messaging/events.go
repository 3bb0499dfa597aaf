package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the inventory service
const (
	EventStockChanged       = "inventory.stock.changed"
	EventAlertGenerated     = "inventory.alert.generated"
	EventAlertResolved      = "inventory.alert.resolved"
	EventCountApproved      = "inventory.count.approved"
	EventReservationExpired = "inventory.reservation.expired"
)

// Event types consumed from the treatment workflow
const (
	EventTreatmentScheduled = "treatment.scheduled"
	EventTreatmentPerformed = "treatment.performed"
	EventTreatmentCancelled = "treatment.cancelled"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeTreatmentEvents = "treatment.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, tenantID, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Inventory Events

// StockChangedEvent is published after every committed ledger entry
type StockChangedEvent struct {
	EntryID       string    `json:"entry_id"`
	ProductID     string    `json:"product_id"`
	LotID         string    `json:"lot_id,omitempty"`
	Delta         int       `json:"delta"`
	Reason        string    `json:"reason"`
	OnHand        int       `json:"on_hand"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	ActorID       string    `json:"actor_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AlertGeneratedEvent is consumed by the notification service. It carries
// enough context to render the message without calling back.
type AlertGeneratedEvent struct {
	AlertID                  string `json:"alert_id"`
	ProductID                string `json:"product_id"`
	ProductName              string `json:"product_name,omitempty"`
	Type                     string `json:"type"`
	CurrentStock             int    `json:"current_stock"`
	Available                int    `json:"available"`
	MinStock                 int    `json:"min_stock"`
	SuggestedReorderQuantity int    `json:"suggested_reorder_quantity,omitempty"`
}

// AlertResolvedEvent is published when an alert's condition cleared
type AlertResolvedEvent struct {
	AlertID   string `json:"alert_id"`
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
}

// CountApprovedEvent is published when an inventory count posts corrections
type CountApprovedEvent struct {
	CountID              string `json:"count_id"`
	CountNumber          string `json:"count_number"`
	Corrections          int    `json:"corrections"`
	TotalDifferenceValue string `json:"total_difference_value"`
}

// ReservationExpiredEvent is published for every reservation released by
// the expiry sweep
type ReservationExpiredEvent struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// Treatment Events

// MaterialRequirement is one product a treatment session consumes
type MaterialRequirement struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// TreatmentScheduledEvent asks for stock to be held for a session
type TreatmentScheduledEvent struct {
	SessionID   string                `json:"session_id"`
	ScheduledAt time.Time             `json:"scheduled_at"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	Materials   []MaterialRequirement `json:"materials"`
}

// TreatmentPerformedEvent turns the session's holds into consumption
type TreatmentPerformedEvent struct {
	SessionID   string    `json:"session_id"`
	PerformedAt time.Time `json:"performed_at"`
}

// TreatmentCancelledEvent frees the session's holds
type TreatmentCancelledEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}
