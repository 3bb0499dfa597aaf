package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
)

// Scheduler runs the background sweeps across all tenants: reservation
// expiry and lot status refresh every sweep interval, the alert scan every
// scan interval. Tenants come from storage plus a configured list.
type Scheduler struct {
	store        store.Store
	reservations *ReservationService
	ledger       *LedgerService
	scanner      *AlertScanner
	tenants      []string
	sweepEvery   time.Duration
	scanEvery    time.Duration
	logger       *logger.Logger
	now          func() time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(
	st store.Store,
	reservations *ReservationService,
	ledger *LedgerService,
	scanner *AlertScanner,
	tenants []string,
	sweepEvery, scanEvery time.Duration,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		store:        st,
		reservations: reservations,
		ledger:       ledger,
		scanner:      scanner,
		tenants:      tenants,
		sweepEvery:   sweepEvery,
		scanEvery:    scanEvery,
		logger:       log.WithComponent("scheduler"),
		now:          reservations.now,
	}
}

// Start starts the sweep loops in background goroutines
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, "sweep", s.sweepEvery, s.RunSweep)
	s.loop(ctx, "alert_scan", s.scanEvery, s.RunAlertScan)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("job", name).Dur("interval", interval).Msg("scheduler job started")

		// Run once immediately
		run(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Str("job", name).Msg("scheduler job stopped")
				return
			case <-ticker.C:
				run(ctx)
			}
		}
	}()
}

// Stop stops the loops and waits for a running cycle to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunSweep expires stale reservations and refreshes lot statuses for every tenant
func (s *Scheduler) RunSweep(ctx context.Context) {
	s.forEachTenant(ctx, "sweep", func(ctx context.Context, tenantID string) {
		if _, err := s.reservations.ExpireStale(ctx, s.now()); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("reservation expiry failed for tenant")
		}
		if _, err := s.ledger.RefreshLotStatuses(ctx); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("lot status refresh failed for tenant")
		}
	})
}

// RunAlertScan runs the alert scan for every tenant
func (s *Scheduler) RunAlertScan(ctx context.Context) {
	s.forEachTenant(ctx, "alert_scan", func(ctx context.Context, tenantID string) {
		if _, err := s.scanner.ScanAndGenerate(ctx); err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("alert scan failed for tenant")
		}
	})
}

func (s *Scheduler) forEachTenant(ctx context.Context, job string, fn func(ctx context.Context, tenantID string)) {
	start := time.Now()

	tenantIDs, err := s.tenantIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("failed to list tenants")
		return
	}

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return
		}
		tenantCtx := tenant.WithTenantID(ctx, tenantID)
		tenantCtx = actor.WithActor(tenantCtx, actor.SystemActor())
		fn(tenantCtx, tenantID)
	}

	s.logger.Debug().
		Str("job", job).
		Dur("duration", time.Since(start)).
		Int("tenant_count", len(tenantIDs)).
		Msg("scheduler cycle completed")
}

// tenantIDs merges discovered and configured tenants.
func (s *Scheduler) tenantIDs(ctx context.Context) ([]string, error) {
	discovered, err := s.store.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	ids := append(slices.Clone(s.tenants), discovered...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
