package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends events to one topic exchange, routed by event type.
// Publishes are serialized because an amqp.Channel is not safe for
// concurrent use. The channel is looked up per publish, so a reconnect is
// picked up without restarting the publisher.
type Publisher struct {
	mu       sync.Mutex
	rmq      *RabbitMQ
	exchange string
	source   string
	logger   *logger.Logger
}

// NewPublisher declares exchange and returns a publisher on it. source names
// the emitting service in every envelope.
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log.WithComponent("publisher"),
	}, nil
}

// Publish wraps data in an Event envelope and sends it with eventType as the
// routing key. Tenant and correlation ID come from ctx.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	tenantID, _ := tenant.TenantID(ctx)

	event, err := NewEvent(eventType, p.source, tenantID, logger.CorrelationID(ctx), data)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: event.CorrelationID,
		MessageId:     event.ID,
		Timestamp:     event.Timestamp,
		Type:          event.Type,
		Body:          body,
	}

	p.mu.Lock()
	err = p.rmq.Channel().PublishWithContext(ctx, p.exchange, eventType, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	p.logger.For(ctx).Debug().
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Msg("event published")
	return nil
}
