package events

import (
	"context"
	"errors"
	"testing"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/messaging"
	"github.com/medflow/stockledger/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockChanged(t *testing.T) {
	sink := testutil.NewMockPublisher()
	p := NewWithSink(sink, logger.Nop())
	lotID := "lot-1"

	p.StockChanged(context.Background(), domain.LedgerEntry{
		ID: "e-1", ProductID: "p-1", LotID: &lotID, Delta: -3, Reason: domain.ReasonConsumption,
	}, 17)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, messaging.EventStockChanged, events[0].Type)
	payload := events[0].Payload.(messaging.StockChangedEvent)
	assert.Equal(t, "lot-1", payload.LotID)
	assert.Equal(t, 17, payload.OnHand)
	assert.Equal(t, "consumption", payload.Reason)
}

func TestCountApproved_FormatsValue(t *testing.T) {
	sink := testutil.NewMockPublisher()
	p := NewWithSink(sink, logger.Nop())

	p.CountApproved(context.Background(), domain.InventoryCount{
		ID: "c-1", CountNumber: "CNT-20260301-0001", TotalDifferenceValue: decimal.RequireFromString("-7.5"),
	}, 2)

	sink.AssertEventPublished(t, messaging.EventCountApproved)
	payload := sink.Events()[0].Payload.(messaging.CountApprovedEvent)
	assert.Equal(t, "-7.50", payload.TotalDifferenceValue)
	assert.Equal(t, 2, payload.Corrections)
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var p *InventoryEventPublisher
	assert.NotPanics(t, func() {
		p.AlertResolved(context.Background(), domain.Alert{ID: "a-1"})
	})
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	sink := testutil.NewMockPublisher()
	sink.Err = errors.New("broker down")
	p := NewWithSink(sink, logger.Nop())

	assert.NotPanics(t, func() {
		p.ReservationExpired(context.Background(), domain.Reservation{ID: "r-1"})
	})
	assert.Len(t, sink.Events(), 1)
}
