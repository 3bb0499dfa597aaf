package service_test

import (
	"testing"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SweepsEveryTenant(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "SCH-1", true, 0)
	h.receiveLot(t, p.ID, "A", 10, 24*time.Hour)

	expires := h.clock.Now().Add(time.Hour)
	r, err := h.reservations.Reserve(h.ctx, service.ReserveRequest{
		ProductID: p.ID, Quantity: 2, Reference: session("s-1"), ExpiresAt: &expires,
	})
	require.NoError(t, err)

	sched := service.NewScheduler(h.store, h.reservations, h.ledger, h.alerts,
		[]string{"33333333-3333-3333-3333-333333333333"}, time.Minute, time.Minute, logger.Nop())

	h.clock.Advance(48 * time.Hour)
	sched.RunSweep(h.ctx)

	got, err := h.reservations.Get(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, got.Status)

	lots, err := h.ledger.ListLots(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusExpired, lots[0].Status)

	sched.RunAlertScan(h.ctx)
}
