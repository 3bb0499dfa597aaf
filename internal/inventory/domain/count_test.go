package domain

import (
	"testing"
	"time"

	"github.com/medflow/stockledger/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, CountInProgress.CanTransitionTo(CountCompleted))
	assert.True(t, CountInProgress.CanTransitionTo(CountCancelled))
	assert.False(t, CountInProgress.CanTransitionTo(CountApproved))
	assert.True(t, CountCompleted.CanTransitionTo(CountApproved))
	assert.True(t, CountCompleted.CanTransitionTo(CountCancelled))
	assert.False(t, CountApproved.CanTransitionTo(CountCancelled))
	assert.False(t, CountCancelled.CanTransitionTo(CountInProgress))
}

func TestCountScope_Validate(t *testing.T) {
	category := "consumables"
	assert.NoError(t, CountScope{}.Validate(CountTypeFull))
	assert.Error(t, CountScope{}.Validate(CountTypeSpot))
	assert.Error(t, CountScope{Category: &category}.Validate(CountTypeSpot))
	assert.NoError(t, CountScope{Category: &category}.Validate(CountTypeCycle))
	assert.NoError(t, CountScope{ProductIDs: []string{"p"}}.Validate(CountTypePartial))
	assert.Error(t, CountScope{}.Validate("weekly"))
}

func TestInventoryCount_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	count := &InventoryCount{ID: "c-1", Status: CountInProgress}
	lines := []CountLine{{ProductID: "p-1", ExpectedQuantity: 50, UnitCost: decimal.RequireFromString("2.50")}}

	assert.True(t, lines[0].Record(47, "u-1", now))
	assert.False(t, lines[0].Record(47, "u-1", now))

	require.NoError(t, count.Complete(lines, now))
	assert.Equal(t, CountCompleted, count.Status)
	assert.Equal(t, -3, *lines[0].Difference)
	assert.Equal(t, 1, count.ItemsWithDifference)
	assert.True(t, decimal.RequireFromString("-7.5").Equal(count.TotalDifferenceValue))

	require.NoError(t, count.Approve("u-2", now))
	err := count.Approve("u-2", now)
	assert.True(t, errors.Is(err, ErrAlreadyApproved))
}

func TestInventoryCount_CompleteRequiresAllLines(t *testing.T) {
	count := &InventoryCount{ID: "c-1", Status: CountInProgress}
	lines := []CountLine{
		{ProductID: "p-1", ExpectedQuantity: 5},
		{ProductID: "p-2", ExpectedQuantity: 5},
		{ProductID: "p-2", ExpectedQuantity: 1},
	}
	lines[0].Record(5, "u", time.Now())

	err := count.Complete(lines, time.Now())

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, errors.Is(err, ErrIncompleteCount))
	assert.Equal(t, "p-2", appErr.Details["missing_product_ids"])
	assert.Equal(t, CountInProgress, count.Status)
}

func TestInventoryCount_GuardedTransitions(t *testing.T) {
	inProgress := &InventoryCount{ID: "c", Status: CountInProgress}
	assert.True(t, errors.Is(inProgress.Approve("u", time.Now()), ErrInvalidCountTransition))

	cancelled := &InventoryCount{ID: "c", Status: CountCancelled}
	assert.True(t, errors.Is(cancelled.EnsureRecordable(), ErrCountNotInProgress))
	assert.True(t, errors.Is(cancelled.Complete(nil, time.Now()), ErrCountNotInProgress))
	assert.True(t, errors.Is(cancelled.Cancel(time.Now()), ErrInvalidCountTransition))

	completed := &InventoryCount{ID: "c", Status: CountCompleted}
	require.NoError(t, completed.Cancel(time.Now()))
	assert.Equal(t, CountCancelled, completed.Status)
}

func TestFormatCountNumber(t *testing.T) {
	assert.Equal(t, "CNT-20260301-0007", FormatCountNumber(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), 7))
}
