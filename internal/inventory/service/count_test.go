package service_test

import (
	"testing"
	"time"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spot(ids ...string) service.StartCountRequest {
	return service.StartCountRequest{CountType: domain.CountTypeSpot, Scope: domain.CountScope{ProductIDs: ids}}
}

func TestCount_RoundTrip(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "CNT-1", false, 0)
	h.receive(t, p.ID, 50)

	detail, err := h.counts.Start(h.ctx, spot(p.ID))
	require.NoError(t, err)
	assert.Equal(t, "CNT-20260301-0001", detail.Count.CountNumber)
	assert.Equal(t, domain.CountInProgress, detail.Count.Status)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, 50, detail.Lines[0].ExpectedQuantity)

	// Activity during counting does not move the snapshot.
	h.receive(t, p.ID, 1)
	_, err = h.ledger.ConsumeDirect(h.ctx, p.ID, 1, domain.Reference{Type: domain.ReferenceManual, ID: "walk-in"})
	require.NoError(t, err)

	detail, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p.ID, Counted: 47}})
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Count.ItemsCounted)
	assert.Equal(t, -3, *detail.Lines[0].Difference)

	count, err := h.counts.Complete(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CountCompleted, count.Status)
	assert.Equal(t, 1, count.ItemsWithDifference)
	assert.Equal(t, "-7.50", count.TotalDifferenceValue.StringFixed(2))

	count, err = h.counts.Approve(h.ctx, count.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CountApproved, count.Status)
	assert.Equal(t, 47, h.onHand(t, p.ID))

	refType := domain.ReferenceInventoryCount
	entries, _, err := h.ledger.ListEntries(h.ctx, store.LedgerFilter{ProductID: p.ID, ReferenceType: &refType})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -3, entries[0].Delta)
	assert.Equal(t, domain.ReasonCountCorrection, entries[0].Reason)
	assert.Equal(t, count.ID, entries[0].ReferenceID)

	_, err = h.counts.Approve(h.ctx, count.ID)
	assert.True(t, errors.Is(err, domain.ErrAlreadyApproved))
	entries, _, err = h.ledger.ListEntries(h.ctx, store.LedgerFilter{ProductID: p.ID, ReferenceType: &refType})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 47, h.onHand(t, p.ID))

	h.events.AssertEventPublished(t, messaging.EventCountApproved)
	require.Len(t, h.published(messaging.EventCountApproved), 1)
}

func TestCount_LotLines(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "CNT-LOT", true, 0)
	b := h.receiveLot(t, p.ID, "B", 10, 60*24*time.Hour)
	a := h.receiveLot(t, p.ID, "A", 5, 30*24*time.Hour)
	depleted := h.receiveLot(t, p.ID, "C", 2, 90*24*time.Hour)
	_, err := h.ledger.PostEntry(h.ctx, domain.PostRequest{
		ProductID: p.ID, LotID: &depleted.ID, Delta: -2, Reason: domain.ReasonAdjustment,
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: "broken"},
	})
	require.NoError(t, err)

	detail, err := h.counts.Start(h.ctx, spot(p.ID))
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, "A", *detail.Lines[0].LotNumber)
	assert.Equal(t, "B", *detail.Lines[1].LotNumber)

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{
		{ProductID: p.ID, LotID: &a.ID, Counted: 5},
		{ProductID: p.ID, LotID: &b.ID, Counted: 8},
	})
	require.NoError(t, err)
	_, err = h.counts.Complete(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	_, err = h.counts.Approve(h.ctx, detail.Count.ID)
	require.NoError(t, err)

	lots, err := h.ledger.ListLots(h.ctx, p.ID)
	require.NoError(t, err)
	for _, l := range lots {
		if l.ID == b.ID {
			assert.Equal(t, 8, l.CurrentQuantity)
		}
	}
	assert.Equal(t, 13, h.onHand(t, p.ID))
	h.requireConsistent(t, p.ID)
}

func TestCount_RecordsDepletedLot(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "CNT-DEP", true, 0)
	open := h.receiveLot(t, p.ID, "A", 5, 30*24*time.Hour)
	depleted := h.receiveLot(t, p.ID, "C", 2, 90*24*time.Hour)
	_, err := h.ledger.PostEntry(h.ctx, domain.PostRequest{
		ProductID: p.ID, LotID: &depleted.ID, Delta: -2, Reason: domain.ReasonAdjustment,
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: "written-off"},
	})
	require.NoError(t, err)

	detail, err := h.counts.Start(h.ctx, spot(p.ID))
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)

	// The written-off units turn up on the shelf.
	detail, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{
		{ProductID: p.ID, LotID: &open.ID, Counted: 5},
		{ProductID: p.ID, LotID: &depleted.ID, Counted: 2},
	})
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, 2, detail.Count.TotalItems)
	assert.Equal(t, 2, detail.Count.ItemsCounted)
	added := detail.Lines[1]
	assert.Equal(t, depleted.ID, *added.LotID)
	assert.Equal(t, 0, added.ExpectedQuantity)
	assert.Equal(t, 2, *added.Difference)

	got, err := h.counts.Get(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)

	count, err := h.counts.Complete(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count.ItemsWithDifference)
	_, err = h.counts.Approve(h.ctx, count.ID)
	require.NoError(t, err)

	lots, err := h.ledger.ListLots(h.ctx, p.ID)
	require.NoError(t, err)
	for _, l := range lots {
		if l.ID == depleted.ID {
			assert.Equal(t, 2, l.CurrentQuantity)
			assert.NotEqual(t, domain.LotStatusDepleted, l.Status)
		}
	}
	assert.Equal(t, 7, h.onHand(t, p.ID))
	h.requireConsistent(t, p.ID)
}

func TestCount_RecordRejectsOutOfScopeProduct(t *testing.T) {
	h := newHarness(t)
	in := h.product(t, "SCP-IN", false, 0)
	out := h.product(t, "SCP-OUT", true, 0)
	h.receive(t, in.ID, 3)
	lot := h.receiveLot(t, out.ID, "X", 4, 30*24*time.Hour)

	detail, err := h.counts.Start(h.ctx, spot(in.ID))
	require.NoError(t, err)

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: out.ID, LotID: &lot.ID, Counted: 4}})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCount_ApprovalNamesFailingLine(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "CNT-DRIFT", true, 0)
	lot := h.receiveLot(t, p.ID, "B", 10, 60*24*time.Hour)

	detail, err := h.counts.Start(h.ctx, spot(p.ID))
	require.NoError(t, err)

	// Most of the lot leaves while the shelf is being counted.
	_, err = h.ledger.PostEntry(h.ctx, domain.PostRequest{
		ProductID: p.ID, LotID: &lot.ID, Delta: -8, Reason: domain.ReasonConsumption,
		Reference: domain.Reference{Type: domain.ReferenceManual, ID: "ward-3"},
	})
	require.NoError(t, err)

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p.ID, LotID: &lot.ID, Counted: 0}})
	require.NoError(t, err)
	_, err = h.counts.Complete(h.ctx, detail.Count.ID)
	require.NoError(t, err)

	_, err = h.counts.Approve(h.ctx, detail.Count.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidDelta))
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, detail.Lines[0].ID, appErr.Details["count_line_id"])
	assert.Equal(t, lot.ID, appErr.Details["lot_id"])
	assert.Equal(t, p.ID, appErr.Details["product_id"])

	current, err := h.counts.Get(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CountCompleted, current.Count.Status)
	assert.Equal(t, 2, h.onHand(t, p.ID))

	_, err = h.counts.Cancel(h.ctx, detail.Count.ID)
	require.NoError(t, err)
}

func TestCount_IncompleteAndTransitions(t *testing.T) {
	h := newHarness(t)
	p1 := h.product(t, "INC-1", false, 0)
	p2 := h.product(t, "INC-2", false, 0)
	h.receive(t, p1.ID, 3)
	h.receive(t, p2.ID, 4)

	detail, err := h.counts.Start(h.ctx, spot(p1.ID, p2.ID))
	require.NoError(t, err)

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p1.ID, Counted: 3}})
	require.NoError(t, err)
	// Re-recording does not count the line twice.
	detail, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p1.ID, Counted: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Count.ItemsCounted)

	_, err = h.counts.Complete(h.ctx, detail.Count.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompleteCount))
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, p2.ID, appErr.Details["missing_product_ids"])

	_, err = h.counts.Approve(h.ctx, detail.Count.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidCountTransition))

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p2.ID, Counted: -1}})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	cancelled, err := h.counts.Cancel(h.ctx, detail.Count.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CountCancelled, cancelled.Status)

	_, err = h.counts.Record(h.ctx, detail.Count.ID, []service.CountEntry{{ProductID: p2.ID, Counted: 4}})
	assert.True(t, errors.Is(err, domain.ErrCountNotInProgress))

	assert.Equal(t, 3, h.onHand(t, p1.ID))
}

func TestCount_Scope(t *testing.T) {
	h := newHarness(t)
	category := "wound-care"
	p, err := h.catalog.Create(h.ctx, service.CreateProductRequest{
		SKU: "WND-1", Name: "Dressing", Unit: "piece", TrackStock: true, Category: &category,
	})
	require.NoError(t, err)
	h.product(t, "OTH-1", false, 0)

	detail, err := h.counts.Start(h.ctx, service.StartCountRequest{
		CountType: domain.CountTypeCycle, Scope: domain.CountScope{Category: &category},
	})
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, p.ID, detail.Lines[0].ProductID)

	full, err := h.counts.Start(h.ctx, service.StartCountRequest{CountType: domain.CountTypeFull})
	require.NoError(t, err)
	assert.Len(t, full.Lines, 2)
	assert.Equal(t, "CNT-20260301-0002", full.Count.CountNumber)

	_, err = h.counts.Start(h.ctx, service.StartCountRequest{CountType: domain.CountTypeSpot})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.counts.Start(h.ctx, spot("no-such-product"))
	assert.True(t, errors.Is(err, errors.ErrValidation))
}
