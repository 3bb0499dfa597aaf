// Package service implements the stock engine operations: ledger posting,
// reservations, inventory counts, alerts and the catalog. Every mutating
// operation runs in one store unit of work that first locks the affected
// product rows, and is retried with backoff when it loses a lock race.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/config"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/retry"
)

// EventPublisher receives committed changes. *events.InventoryEventPublisher
// implements it.
type EventPublisher interface {
	StockChanged(ctx context.Context, e domain.LedgerEntry, onHand int)
	AlertGenerated(ctx context.Context, a domain.AlertEvent)
	AlertResolved(ctx context.Context, a domain.Alert)
	CountApproved(ctx context.Context, c domain.InventoryCount, corrections int)
	ReservationExpired(ctx context.Context, r domain.Reservation)
}

// StockCache holds computed stock levels. *cache.StockCache implements it.
// Generation is read before a level is computed and handed to Set, which
// drops the level when Invalidate ran in between.
type StockCache interface {
	Get(ctx context.Context, productID string) (*domain.StockLevel, bool)
	Generation(ctx context.Context, productID string) int64
	Set(ctx context.Context, level *domain.StockLevel, generation int64)
	Invalidate(ctx context.Context, productIDs ...string)
}

// Options tune the engine.
type Options struct {
	Retry                 retry.Policy
	LowLotFraction        float64
	DefaultReservationTTL time.Duration
	Now                   func() time.Time
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Retry:          retry.DefaultPolicy(),
		LowLotFraction: domain.DefaultLowLotFraction,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// OptionsFromConfig maps the inventory configuration section.
func OptionsFromConfig(cfg config.InventoryConfig) Options {
	opts := DefaultOptions()
	opts.Retry = retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
	opts.LowLotFraction = cfg.LowLotFraction
	opts.DefaultReservationTTL = cfg.DefaultReservationTTL
	return opts
}

// Engine bundles what every service needs.
type Engine struct {
	store     store.Store
	publisher EventPublisher
	cache     StockCache
	logger    *logger.Logger
	opts      Options
}

// NewEngine creates the shared engine. publisher and cache may be nil.
func NewEngine(st store.Store, publisher EventPublisher, cache StockCache, log *logger.Logger, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = DefaultOptions().Now
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Engine{
		store:     st,
		publisher: publisher,
		cache:     cache,
		logger:    log,
		opts:      opts,
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now()
}

// postedEntry is a committed ledger entry with the product's on-hand after it.
type postedEntry struct {
	entry  domain.LedgerEntry
	onHand int
}

// outbox collects side effects of a unit of work. They are delivered only
// after commit, so a rolled back attempt publishes nothing.
type outbox struct {
	entries  []postedEntry
	touched  map[string]struct{}
	raised   []domain.AlertEvent
	resolved []domain.Alert
	expired  []domain.Reservation
	approved *domain.InventoryCount
	fixes    int
}

func newOutbox() *outbox {
	return &outbox{touched: make(map[string]struct{})}
}

func (o *outbox) touch(productID string) {
	o.touched[productID] = struct{}{}
}

func (o *outbox) touchedIDs() []string {
	ids := make([]string, 0, len(o.touched))
	for id := range o.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// mutate runs fn in a unit of work, retrying lock conflicts. A conflict that
// outlives the retries surfaces as ConcurrentModification.
func (e *Engine) mutate(ctx context.Context, fn func(ctx context.Context, tx store.Tx, out *outbox) error) error {
	_, err := e.commit(ctx, fn)
	return err
}

// commit is mutate returning the delivered outbox.
func (e *Engine) commit(ctx context.Context, fn func(ctx context.Context, tx store.Tx, out *outbox) error) (*outbox, error) {
	var out *outbox
	err := retry.Do(ctx, e.opts.Retry, database.IsRetryable, func(ctx context.Context) error {
		out = newOutbox()
		return e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := fn(ctx, tx, out); err != nil {
				return err
			}
			// Reservations and ledger posts change what the alert generator sees.
			return e.evaluateTouched(ctx, tx, out)
		})
	})
	if err != nil {
		if database.IsRetryable(err) {
			e.logger.For(ctx).Warn().Err(err).Msg("giving up after lock conflicts")
			return nil, domain.ConcurrentModification(err)
		}
		return nil, err
	}
	e.deliver(ctx, out)
	return out, nil
}

// read runs fn in a unit of work without side effects.
func (e *Engine) read(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := retry.Do(ctx, e.opts.Retry, database.IsRetryable, func(ctx context.Context) error {
		return e.store.Atomic(ctx, fn)
	})
	if err != nil && database.IsRetryable(err) {
		return domain.ConcurrentModification(err)
	}
	return err
}

func (e *Engine) deliver(ctx context.Context, out *outbox) {
	if e.cache != nil && len(out.touched) > 0 {
		e.cache.Invalidate(ctx, out.touchedIDs()...)
	}
	if e.publisher == nil {
		return
	}
	for _, p := range out.entries {
		e.publisher.StockChanged(ctx, p.entry, p.onHand)
	}
	for _, r := range out.expired {
		e.publisher.ReservationExpired(ctx, r)
	}
	if out.approved != nil {
		e.publisher.CountApproved(ctx, *out.approved, out.fixes)
	}
	for _, a := range out.resolved {
		e.publisher.AlertResolved(ctx, a)
	}
	for _, a := range out.raised {
		e.publisher.AlertGenerated(ctx, a)
	}
}

// evaluateTouched re-evaluates alerts for every product the unit of work
// changed. The callers already hold those products' locks.
func (e *Engine) evaluateTouched(ctx context.Context, tx store.Tx, out *outbox) error {
	for _, id := range out.touchedIDs() {
		product, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := e.evaluateAlerts(ctx, tx, product, out); err != nil {
			return err
		}
	}
	return nil
}

// lockProducts locks the given products in ID order so that units of work
// touching several products cannot deadlock each other.
func lockProducts(ctx context.Context, tx store.Tx, ids []string) (map[string]*domain.Product, error) {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	products := make(map[string]*domain.Product, len(sorted))
	for _, id := range sorted {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}
