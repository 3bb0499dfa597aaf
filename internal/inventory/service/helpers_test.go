package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/events"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/internal/inventory/store/memory"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/retry"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/medflow/stockledger/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctx          context.Context
	store        *memory.Store
	clock        *clock
	events       *testutil.MockPublisher
	catalog      *service.CatalogService
	ledger       *service.LedgerService
	reservations *service.ReservationService
	counts       *service.CountService
	alerts       *service.AlertScanner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newCachedHarness(t, nil)
}

// newCachedHarness builds the harness with a stock level cache.
func newCachedHarness(t *testing.T, cache service.StockCache) *harness {
	t.Helper()

	st := memory.New()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sink := testutil.NewMockPublisher()
	opts := service.DefaultOptions()
	opts.Now = clk.Now
	opts.Retry = retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	engine := service.NewEngine(st, events.NewWithSink(sink, logger.Nop()), cache, logger.Nop(), opts)

	ctx := tenant.WithTenantID(context.Background(), "11111111-1111-1111-1111-111111111111")
	ctx = actor.WithActor(ctx, &actor.Actor{ID: "user-1"})

	return &harness{
		ctx:          ctx,
		store:        st,
		clock:        clk,
		events:       sink,
		catalog:      service.NewCatalogService(engine),
		ledger:       service.NewLedgerService(engine),
		reservations: service.NewReservationService(engine),
		counts:       service.NewCountService(engine),
		alerts:       service.NewAlertScanner(engine),
	}
}

func intPtr(i int) *int { return &i }

// levelCache is an in-process StockCache. beforeRead runs once, right
// after the next generation read.
type levelCache struct {
	mu         sync.Mutex
	generation int64
	levels     map[string]domain.StockLevel
	beforeRead func()
}

func newLevelCache() *levelCache {
	return &levelCache{levels: map[string]domain.StockLevel{}}
}

func (c *levelCache) Get(ctx context.Context, productID string) (*domain.StockLevel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.levels[productID]
	return &l, ok
}

func (c *levelCache) Generation(ctx context.Context, productID string) int64 {
	c.mu.Lock()
	gen, hook := c.generation, c.beforeRead
	c.beforeRead = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return gen
}

func (c *levelCache) Set(ctx context.Context, level *domain.StockLevel, generation int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation == c.generation {
		c.levels[level.ProductID] = *level
	}
}

func (c *levelCache) Invalidate(ctx context.Context, productIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, id := range productIDs {
		delete(c.levels, id)
	}
}

// published returns the payloads of every eventType event, in order.
func (h *harness) published(eventType string) []interface{} {
	var out []interface{}
	for _, e := range h.events.Events() {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (h *harness) product(t *testing.T, sku string, lotTracked bool, minStock int) *domain.Product {
	t.Helper()
	p, err := h.catalog.Create(h.ctx, service.CreateProductRequest{
		SKU:                 sku,
		Name:                "Product " + sku,
		Unit:                "piece",
		TrackStock:          true,
		RequiresLotTracking: lotTracked,
		MinStock:            minStock,
		UnitCost:            decimal.RequireFromString("2.50"),
	})
	require.NoError(t, err)
	return p
}

// receive posts a receipt for a product without lot tracking.
func (h *harness) receive(t *testing.T, productID string, qty int) {
	t.Helper()
	_, err := h.ledger.PostEntry(h.ctx, domain.PostRequest{
		ProductID: productID,
		Delta:     qty,
		Reason:    domain.ReasonReceipt,
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: "delivery-1"},
	})
	require.NoError(t, err)
}

func (h *harness) receiveLot(t *testing.T, productID, lotNumber string, qty int, expiresIn time.Duration) *domain.Lot {
	t.Helper()
	expiry := h.clock.Now().Add(expiresIn)
	lot, _, err := h.ledger.ReceiveLot(h.ctx, service.ReceiveLotRequest{
		ProductID:  productID,
		LotNumber:  lotNumber,
		Quantity:   qty,
		ExpiryDate: &expiry,
	})
	require.NoError(t, err)
	return lot
}

func (h *harness) onHand(t *testing.T, productID string) int {
	t.Helper()
	n, err := h.ledger.GetOnHand(h.ctx, productID)
	require.NoError(t, err)
	return n
}

// requireConsistent checks that on-hand equals the ledger sum and, for lot
// tracked products, the lot total.
func (h *harness) requireConsistent(t *testing.T, productID string) {
	t.Helper()
	rec, err := h.ledger.Reconcile(h.ctx, productID)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "reconciliation: %+v", rec)
}

func tenantCtx(ctx context.Context, tenantID string) context.Context {
	return tenant.WithTenantID(ctx, tenantID)
}
