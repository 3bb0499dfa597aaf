package domain

import (
	"testing"
	"time"

	"github.com/medflow/stockledger/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservation_ConsumeOnce(t *testing.T) {
	r := &Reservation{ID: "r-1", Status: ReservationActive}

	require.NoError(t, r.Consume(time.Now()))
	err := r.Consume(time.Now())

	assert.True(t, errors.Is(err, ErrAlreadyConsumedOrReleased))
	assert.Equal(t, ReservationConsumed, r.Status)
}

func TestReservation_ReleaseIdempotent(t *testing.T) {
	r := &Reservation{ID: "r-1", Status: ReservationActive}

	changed, err := r.Release(time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.Release(time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	assert.True(t, errors.Is(r.Consume(time.Now()), ErrAlreadyConsumedOrReleased))
}

func TestReservation_ReleaseConsumedFails(t *testing.T) {
	r := &Reservation{ID: "r-1", Status: ReservationConsumed}
	_, err := r.Release(time.Now())
	assert.True(t, errors.Is(err, ErrAlreadyConsumedOrReleased))
}

func TestReservation_IsStale(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	r := &Reservation{Status: ReservationActive, ExpiresAt: &past}
	assert.True(t, r.IsStale(now))

	r.Status = ReservationReleased
	assert.False(t, r.IsStale(now))

	assert.False(t, (&Reservation{Status: ReservationActive}).IsStale(now))
}

func TestInsufficientAvailableStock_Reason(t *testing.T) {
	var appErr *errors.AppError

	require.True(t, errors.As(InsufficientAvailableStock("p", 5, 10, 8), &appErr))
	assert.Equal(t, ShortageReserved, appErr.Details["reason"])
	assert.Equal(t, "3", appErr.Details["shortfall"])

	require.True(t, errors.As(InsufficientAvailableStock("p", 5, 3, 0), &appErr))
	assert.Equal(t, ShortageNoPhysicalStock, appErr.Details["reason"])
}
