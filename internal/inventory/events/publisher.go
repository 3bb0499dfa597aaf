// Package events publishes stock engine events to RabbitMQ.
package events

import (
	"context"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/messaging"
)

// EventSink is the broker side of the publisher; *messaging.Publisher
// satisfies it.
type EventSink interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory events. A nil publisher is
// valid and drops every event, which is how the service runs without a broker.
// Publishing failures are logged and never fail the committed operation.
type InventoryEventPublisher struct {
	sink   EventSink
	logger *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithSink(publisher, log), nil
}

// NewWithSink creates a publisher on an arbitrary sink
func NewWithSink(sink EventSink, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{sink: sink, logger: log.WithComponent("event_publisher")}
}

func (p *InventoryEventPublisher) publish(ctx context.Context, eventType string, data interface{}, key, id string) {
	if p == nil || p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str(key, id).Msg("failed to publish event")
	}
}

// StockChanged publishes a committed ledger entry with the resulting on-hand
func (p *InventoryEventPublisher) StockChanged(ctx context.Context, e domain.LedgerEntry, onHand int) {
	lotID := ""
	if e.LotID != nil {
		lotID = *e.LotID
	}
	p.publish(ctx, messaging.EventStockChanged, messaging.StockChangedEvent{
		EntryID:       e.ID,
		ProductID:     e.ProductID,
		LotID:         lotID,
		Delta:         e.Delta,
		Reason:        string(e.Reason),
		OnHand:        onHand,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		ActorID:       e.ActorID,
		OccurredAt:    e.OccurredAt,
	}, "entry_id", e.ID)
}

// AlertGenerated publishes a new stock alert
func (p *InventoryEventPublisher) AlertGenerated(ctx context.Context, a domain.AlertEvent) {
	p.publish(ctx, messaging.EventAlertGenerated, messaging.AlertGeneratedEvent{
		AlertID:                  a.AlertID,
		ProductID:                a.ProductID,
		ProductName:              a.ProductName,
		Type:                     string(a.Type),
		CurrentStock:             a.CurrentStock,
		Available:                a.Available,
		MinStock:                 a.MinStock,
		SuggestedReorderQuantity: a.SuggestedReorderQuantity,
	}, "alert_id", a.AlertID)
}

// AlertResolved publishes an alert whose condition cleared
func (p *InventoryEventPublisher) AlertResolved(ctx context.Context, a domain.Alert) {
	p.publish(ctx, messaging.EventAlertResolved, messaging.AlertResolvedEvent{
		AlertID:   a.ID,
		ProductID: a.ProductID,
		Type:      string(a.Type),
	}, "alert_id", a.ID)
}

// CountApproved publishes an approved count and the number of corrections posted
func (p *InventoryEventPublisher) CountApproved(ctx context.Context, c domain.InventoryCount, corrections int) {
	p.publish(ctx, messaging.EventCountApproved, messaging.CountApprovedEvent{
		CountID:              c.ID,
		CountNumber:          c.CountNumber,
		Corrections:          corrections,
		TotalDifferenceValue: c.TotalDifferenceValue.StringFixed(2),
	}, "count_id", c.ID)
}

// ReservationExpired publishes a reservation released by the expiry sweep
func (p *InventoryEventPublisher) ReservationExpired(ctx context.Context, r domain.Reservation) {
	p.publish(ctx, messaging.EventReservationExpired, messaging.ReservationExpiredEvent{
		ReservationID: r.ID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
		ReferenceType: r.ReferenceType,
		ReferenceID:   r.ReferenceID,
	}, "reservation_id", r.ID)
}
