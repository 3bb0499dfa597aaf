package consumers

import (
	"context"
	"fmt"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/messaging"
)

const treatmentQueue = "inventory-service.treatments"

// Reservations is the part of the reservation service the treatment
// workflow drives.
type Reservations interface {
	ReserveAll(ctx context.Context, ref domain.Reference, reqs []service.ReserveRequest) ([]domain.Reservation, error)
	ConsumeByReference(ctx context.Context, ref domain.Reference) ([]domain.LedgerEntry, error)
	ReleaseByReference(ctx context.Context, ref domain.Reference) (int, error)
}

// Idempotency remembers processed event IDs. *cache.IdempotencyStore
// implements it.
type Idempotency interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// TreatmentEventConsumer turns treatment workflow events into
// reservations: scheduled sessions hold their materials, performed
// sessions consume them and cancelled sessions release them.
type TreatmentEventConsumer struct {
	consumer     *messaging.Consumer
	reservations Reservations
	idempotency  Idempotency
	logger       *logger.Logger
}

// NewTreatmentEventConsumer creates the consumer and binds its queue.
// idempotency may be nil; the reservation operations are safe to repeat.
func NewTreatmentEventConsumer(rmq *messaging.RabbitMQ, reservations Reservations, idempotency Idempotency, log *logger.Logger) (*TreatmentEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, treatmentQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeTreatmentEvents, "treatment.#"); err != nil {
		return nil, err
	}

	return Register(consumer, reservations, idempotency, log), nil
}

// Register attaches the treatment handlers to consumer
func Register(consumer *messaging.Consumer, reservations Reservations, idempotency Idempotency, log *logger.Logger) *TreatmentEventConsumer {
	c := &TreatmentEventConsumer{
		consumer:     consumer,
		reservations: reservations,
		idempotency:  idempotency,
		logger:       log.WithComponent("treatment_consumer"),
	}

	consumer.RegisterHandler(messaging.EventTreatmentScheduled, c.once(c.handleScheduled))
	consumer.RegisterHandler(messaging.EventTreatmentPerformed, c.once(c.handlePerformed))
	consumer.RegisterHandler(messaging.EventTreatmentCancelled, c.once(c.handleCancelled))

	return c
}

// Start starts consuming messages
func (c *TreatmentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// once skips events that were already handled. An event is recorded only
// after its handler succeeded; one that failed, or whose consumer died
// mid-way, runs again on redelivery.
func (c *TreatmentEventConsumer) once(handler messaging.MessageHandler) messaging.MessageHandler {
	if c.idempotency == nil {
		return func(ctx context.Context, event *messaging.Event) error {
			return classify(handler(ctx, event))
		}
	}
	return func(ctx context.Context, event *messaging.Event) error {
		done, err := c.idempotency.Processed(ctx, event.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("event_id", event.ID).Msg("idempotency check failed, processing anyway")
		} else if done {
			c.logger.Debug().Str("event_id", event.ID).Msg("skipping duplicate event")
			return nil
		}

		if err := classify(handler(ctx, event)); err != nil {
			return err
		}
		if err := c.idempotency.MarkProcessed(ctx, event.ID); err != nil {
			c.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to record processed event")
		}
		return nil
	}
}

// classify marks business rule failures as permanent. Only lock conflicts
// and infrastructure errors are worth a redelivery.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConcurrentModification) {
		return err
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode < 500 {
		return messaging.Permanent(err)
	}
	return err
}

func sessionRef(sessionID string) domain.Reference {
	return domain.Reference{Type: domain.ReferenceTreatment, ID: sessionID}
}

func (c *TreatmentEventConsumer) handleScheduled(ctx context.Context, event *messaging.Event) error {
	var data messaging.TreatmentScheduledEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}
	if data.SessionID == "" || len(data.Materials) == 0 {
		return messaging.Permanent(fmt.Errorf("event %s has no session or materials", event.ID))
	}

	reqs := make([]service.ReserveRequest, 0, len(data.Materials))
	for _, m := range data.Materials {
		reqs = append(reqs, service.ReserveRequest{
			ProductID: m.ProductID,
			Quantity:  m.Quantity,
			ExpiresAt: data.ExpiresAt,
		})
	}

	held, err := c.reservations.ReserveAll(ctx, sessionRef(data.SessionID), reqs)
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("session_id", data.SessionID).
		Int("reservations", len(held)).
		Msg("materials reserved for treatment")
	return nil
}

func (c *TreatmentEventConsumer) handlePerformed(ctx context.Context, event *messaging.Event) error {
	var data messaging.TreatmentPerformedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}

	entries, err := c.reservations.ConsumeByReference(ctx, sessionRef(data.SessionID))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		c.logger.Warn().Str("session_id", data.SessionID).Msg("performed session had no active reservations")
	}

	c.logger.Info().
		Str("session_id", data.SessionID).
		Int("entries", len(entries)).
		Msg("treatment materials consumed")
	return nil
}

func (c *TreatmentEventConsumer) handleCancelled(ctx context.Context, event *messaging.Event) error {
	var data messaging.TreatmentCancelledEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(fmt.Errorf("decode %s: %w", event.Type, err))
	}

	released, err := c.reservations.ReleaseByReference(ctx, sessionRef(data.SessionID))
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("session_id", data.SessionID).
		Int("released", released).
		Msg("treatment materials released")
	return nil
}
