package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxDeliveries is how often a failing message is redelivered before it is
// dead-lettered.
const maxDeliveries = 3

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer creates a new consumer for the given queue
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	c := NewDispatcher(log)
	c.rmq = rmq
	c.queueName = queueName
	return c, nil
}

// NewDispatcher creates a consumer without a broker connection. Only
// RegisterHandler and Dispatch are usable.
func NewDispatcher(log *logger.Logger) *Consumer {
	return &Consumer{
		handlers: make(map[string]MessageHandler),
		logger:   log,
	}
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	// Declare the exchange first
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Bind the queue to the exchange
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue. After a broker
// reconnect the consumer subscribes again on the new channel.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, reconnected, err := c.consume()
	if err != nil {
		return err
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")
	go c.run(ctx, msgs, reconnected)
	return nil
}

// consume opens a delivery stream. The reconnect signal is taken before
// the stream so a reconnect in between is not missed.
func (c *Consumer) consume() (<-chan amqp.Delivery, <-chan struct{}, error) {
	reconnected := c.rmq.Reconnected()
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return msgs, reconnected, nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery, reconnected <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
			return
		case msg, ok := <-msgs:
			if ok {
				c.handleMessage(ctx, msg)
				continue
			}

			c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed, waiting for reconnect")
			select {
			case <-ctx.Done():
				return
			case <-reconnected:
			}

			var err error
			if msgs, reconnected, err = c.consume(); err != nil {
				c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to resubscribe")
				return
			}
			c.logger.Info().Str("queue", c.queueName).Msg("consumer resubscribed")
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		_ = msg.Reject(false)
		return
	}

	if err := c.Dispatch(ctx, &event); err != nil {
		retryCount := getRetryCount(msg)
		if retryCount >= maxDeliveries || !IsRetryable(err) {
			c.logger.Warn().
				Err(err).
				Str("event_id", event.ID).
				Int("retry_count", retryCount).
				Msg("giving up on event, sending to DLQ")
			_ = msg.Reject(false)
			return
		}

		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

// Dispatch routes an event to its registered handler. The handler runs with
// the event's tenant and correlation ID in its context, as the system actor.
// Events without a handler are ignored.
func (c *Consumer) Dispatch(ctx context.Context, event *Event) error {
	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		return nil
	}

	tenantID, err := tenant.Parse(event.TenantID)
	if err != nil {
		return Permanent(fmt.Errorf("event %s: %w", event.ID, err))
	}

	ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	ctx = tenant.WithTenantID(ctx, tenantID)
	ctx = actor.WithActor(ctx, actor.SystemActor())

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("tenant_id", event.TenantID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, event); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("failed to process event")
		return err
	}
	return nil
}

// permanentError marks a handler failure that redelivery cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer dead-letters the message instead of
// requeueing it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether a handler error should lead to redelivery.
func IsRetryable(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}

func getRetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if count, ok := d["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}

	return 0
}
