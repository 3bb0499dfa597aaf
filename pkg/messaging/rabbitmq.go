package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/medflow/stockledger/pkg/config"
	"github.com/medflow/stockledger/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterExchange receives messages that were rejected for good
const DeadLetterExchange = "dlx.events"

// RabbitMQ manages the connection to RabbitMQ. Declared exchanges, queues
// and bindings are recorded and declared again after a reconnect.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   *config.RabbitMQConfig
	logger   *logger.Logger
	mu       sync.RWMutex
	closed   bool
	topology []func(ch *amqp.Channel) error

	// reconnected is closed and replaced after every successful reconnect.
	reconnected chan struct{}
}

// New creates a new RabbitMQ connection
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config:      cfg,
		logger:      log.WithComponent("rabbitmq"),
		reconnected: make(chan struct{}),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}

	return rmq, nil
}

// connect dials and opens the channel. Callers hold mu or own r exclusively.
func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	for _, declare := range r.topology {
		if err := declare(ch); err != nil {
			conn.Close()
			return fmt.Errorf("failed to restore topology: %w", err)
		}
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().Int("topology", len(r.topology)).Msg("connected to RabbitMQ")
	return nil
}

// declare runs fn on the current channel and remembers it for reconnects
func (r *RabbitMQ) declare(fn func(ch *amqp.Channel) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fn(r.channel); err != nil {
		return err
	}
	r.topology = append(r.topology, fn)
	return nil
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Reconnected returns a channel that is closed after the next successful
// reconnect. Take it before using the current channel to avoid missing a
// reconnect that happens in between.
func (r *RabbitMQ) Reconnected() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnected
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.declare(func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
	})
}

// DeclareQueue declares a durable queue that dead-letters into
// DeadLetterExchange
func (r *RabbitMQ) DeclareQueue(name string) error {
	return r.declare(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DeadLetterExchange,
		})
		return err
	})
}

// DeclareDeadLetterQueue declares the dead letter exchange and the
// service's catch-all queue dlq.<serviceName> bound to it
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) error {
	queueName := "dlq." + serviceName
	return r.declare(func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare DLX exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare DLQ queue: %w", err)
		}
		if err := ch.QueueBind(queueName, "#", DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind DLQ: %w", err)
		}
		return nil
	})
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.declare(func(ch *amqp.Channel) error {
		return ch.QueueBind(queueName, routingKey, exchange, false, nil)
	})
}

// Watch reconnects whenever the broker drops the connection, until ctx is
// done or Close is called.
func (r *RabbitMQ) Watch(ctx context.Context) {
	go func() {
		for {
			r.mu.RLock()
			closedCh := r.conn.NotifyClose(make(chan *amqp.Error, 1))
			r.mu.RUnlock()

			select {
			case <-ctx.Done():
				return
			case amqpErr := <-closedCh:
				r.mu.RLock()
				shutdown := r.closed
				r.mu.RUnlock()
				if shutdown {
					return
				}

				r.logger.Warn().Interface("reason", amqpErr).Msg("RabbitMQ connection lost")
				if err := r.Reconnect(ctx); err != nil {
					r.logger.Error().Err(err).Msg("giving up on RabbitMQ")
					return
				}
			}
		}
	}()
}

// Reconnect re-dials RabbitMQ with exponential backoff, giving up after
// MaxRetries attempts or when ctx is done.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.ReconnectDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		r.logger.Info().Int("attempt", attempt).Msg("attempting to reconnect to RabbitMQ")
		return r.connect()
	}

	maxRetries := uint64(0)
	if r.config.MaxRetries > 1 {
		maxRetries = uint64(r.config.MaxRetries - 1)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("failed to reconnect after %d attempts: %w", attempt, err)
	}

	close(r.reconnected)
	r.reconnected = make(chan struct{})
	return nil
}
