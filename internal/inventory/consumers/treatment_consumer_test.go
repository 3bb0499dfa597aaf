package consumers

import (
	"context"
	"sync"
	"testing"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/internal/inventory/store/memory"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/messaging"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

type memoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryIdempotency) Processed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *memoryIdempotency) MarkProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = true
	return nil
}

// flakyReservations fails the first consume the way a dropped database
// connection does, after the call reached the service.
type flakyReservations struct {
	Reservations
	mu       sync.Mutex
	failures int
	consumes int
}

func (f *flakyReservations) ConsumeByReference(ctx context.Context, ref domain.Reference) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	f.consumes++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, context.DeadlineExceeded
	}
	return f.Reservations.ConsumeByReference(ctx, ref)
}

type fixture struct {
	dispatcher   *messaging.Consumer
	idempotency  *memoryIdempotency
	catalog      *service.CatalogService
	ledger       *service.LedgerService
	reservations *service.ReservationService
	ctx          context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := service.NewEngine(memory.New(), nil, nil, logger.Nop(), service.DefaultOptions())
	reservations := service.NewReservationService(engine)

	dispatcher := messaging.NewDispatcher(logger.Nop())
	idempotency := &memoryIdempotency{seen: map[string]bool{}}
	Register(dispatcher, reservations, idempotency, logger.Nop())

	return &fixture{
		dispatcher:   dispatcher,
		idempotency:  idempotency,
		catalog:      service.NewCatalogService(engine),
		ledger:       service.NewLedgerService(engine),
		reservations: reservations,
		ctx:          tenant.WithTenantID(context.Background(), testTenant),
	}
}

func (f *fixture) stocked(t *testing.T, sku string, qty int) string {
	t.Helper()
	p, err := f.catalog.Create(f.ctx, service.CreateProductRequest{SKU: sku, Name: sku, Unit: "piece", TrackStock: true})
	require.NoError(t, err)
	_, err = f.ledger.PostEntry(f.ctx, domain.PostRequest{
		ProductID: p.ID, Delta: qty, Reason: domain.ReasonReceipt,
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: "seed"},
	})
	require.NoError(t, err)
	return p.ID
}

func event(t *testing.T, eventType string, data interface{}) *messaging.Event {
	t.Helper()
	e, err := messaging.NewEvent(eventType, "treatment-service", testTenant, "corr-1", data)
	require.NoError(t, err)
	return e
}

func TestTreatmentLifecycle(t *testing.T) {
	f := newFixture(t)
	gloves := f.stocked(t, "GLV", 10)
	gauze := f.stocked(t, "GZE", 5)

	scheduled := event(t, messaging.EventTreatmentScheduled, messaging.TreatmentScheduledEvent{
		SessionID: "session-1",
		Materials: []messaging.MaterialRequirement{{ProductID: gloves, Quantity: 2}, {ProductID: gauze, Quantity: 1}},
	})
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), scheduled))
	// Redelivery is skipped.
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), scheduled))

	held, err := f.reservations.ListByReference(f.ctx, domain.Reference{Type: domain.ReferenceTreatment, ID: "session-1"})
	require.NoError(t, err)
	require.Len(t, held, 2)
	for _, r := range held {
		assert.Equal(t, actor.SystemActorID, r.ActorID)
	}

	performed := event(t, messaging.EventTreatmentPerformed, messaging.TreatmentPerformedEvent{SessionID: "session-1"})
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), performed))

	onHand, err := f.ledger.GetOnHand(f.ctx, gloves)
	require.NoError(t, err)
	assert.Equal(t, 8, onHand)
	onHand, err = f.ledger.GetOnHand(f.ctx, gauze)
	require.NoError(t, err)
	assert.Equal(t, 4, onHand)
}

func TestTreatmentCancelled(t *testing.T) {
	f := newFixture(t)
	gloves := f.stocked(t, "GLV", 10)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), event(t, messaging.EventTreatmentScheduled, messaging.TreatmentScheduledEvent{
		SessionID: "session-2",
		Materials: []messaging.MaterialRequirement{{ProductID: gloves, Quantity: 10}},
	})))
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), event(t, messaging.EventTreatmentCancelled, messaging.TreatmentCancelledEvent{
		SessionID: "session-2",
	})))

	level, err := f.ledger.GetStockLevel(f.ctx, gloves)
	require.NoError(t, err)
	assert.Zero(t, level.Reserved)
	assert.Equal(t, 10, level.Available)
}

func TestTreatmentPerformed_RedeliveredAfterFailure(t *testing.T) {
	f := newFixture(t)
	gloves := f.stocked(t, "GLV", 10)

	flaky := &flakyReservations{Reservations: f.reservations, failures: 1}
	dispatcher := messaging.NewDispatcher(logger.Nop())
	Register(dispatcher, flaky, f.idempotency, logger.Nop())

	require.NoError(t, dispatcher.Dispatch(context.Background(), event(t, messaging.EventTreatmentScheduled, messaging.TreatmentScheduledEvent{
		SessionID: "session-4",
		Materials: []messaging.MaterialRequirement{{ProductID: gloves, Quantity: 3}},
	})))

	performed := event(t, messaging.EventTreatmentPerformed, messaging.TreatmentPerformedEvent{SessionID: "session-4"})
	err := dispatcher.Dispatch(context.Background(), performed)
	require.Error(t, err)
	assert.True(t, messaging.IsRetryable(err))
	done, _ := f.idempotency.Processed(context.Background(), performed.ID)
	assert.False(t, done, "a failed event must not be recorded")

	// The broker redelivers the unacked message.
	require.NoError(t, dispatcher.Dispatch(context.Background(), performed))
	onHand, err := f.ledger.GetOnHand(f.ctx, gloves)
	require.NoError(t, err)
	assert.Equal(t, 7, onHand)

	require.NoError(t, dispatcher.Dispatch(context.Background(), performed))
	assert.Equal(t, 2, flaky.consumes)
	onHand, err = f.ledger.GetOnHand(f.ctx, gloves)
	require.NoError(t, err)
	assert.Equal(t, 7, onHand)
}

func TestTreatmentScheduled_ShortageIsPermanent(t *testing.T) {
	f := newFixture(t)
	gloves := f.stocked(t, "GLV", 1)

	err := f.dispatcher.Dispatch(context.Background(), event(t, messaging.EventTreatmentScheduled, messaging.TreatmentScheduledEvent{
		SessionID: "session-3",
		Materials: []messaging.MaterialRequirement{{ProductID: gloves, Quantity: 2}},
	}))
	require.Error(t, err)
	assert.False(t, messaging.IsRetryable(err))
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailableStock)
}

func TestDispatch_RequiresTenant(t *testing.T) {
	f := newFixture(t)
	e := event(t, messaging.EventTreatmentPerformed, messaging.TreatmentPerformedEvent{SessionID: "s"})
	e.TenantID = ""

	err := f.dispatcher.Dispatch(context.Background(), e)
	require.Error(t, err)
	assert.False(t, messaging.IsRetryable(err))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.True(t, messaging.IsRetryable(classify(domain.ConcurrentModification(nil))))
	assert.False(t, messaging.IsRetryable(classify(domain.NotTracked("p-1"))))
	assert.True(t, messaging.IsRetryable(classify(context.DeadlineExceeded)))
}
