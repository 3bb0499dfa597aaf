package service_test

import (
	"testing"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unresolved(t *testing.T, h *harness, productID string) []domain.Alert {
	t.Helper()
	alerts, _, err := h.alerts.List(h.ctx, domain.AlertFilter{ProductID: &productID, Unresolved: true})
	require.NoError(t, err)
	return alerts
}

func TestAlerts_RaisedOnceAndResolved(t *testing.T) {
	h := newHarness(t)
	p, err := h.catalog.Create(h.ctx, service.CreateProductRequest{
		SKU: "ALR-1", Name: "Saline", Unit: "bag", TrackStock: true, MinStock: 10, MaxStock: intPtr(50),
	})
	require.NoError(t, err)

	alerts := unresolved(t, h, p.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertOutOfStock, alerts[0].Type)

	h.receive(t, p.ID, 8)
	alerts = unresolved(t, h, p.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertLowStock, alerts[0].Type)
	assert.Equal(t, 42, alerts[0].SuggestedReorderQuantity)

	// Re-running the scan does not duplicate the open alert.
	result, err := h.alerts.ScanAndGenerate(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Empty(t, result.Raised)
	assert.Len(t, unresolved(t, h, p.ID), 1)

	h.receive(t, p.ID, 10)
	assert.Empty(t, unresolved(t, h, p.ID))

	raised := h.published(messaging.EventAlertGenerated)
	require.Len(t, raised, 2)
	assert.Equal(t, string(domain.AlertOutOfStock), raised[0].(messaging.AlertGeneratedEvent).Type)
	assert.Equal(t, string(domain.AlertLowStock), raised[1].(messaging.AlertGeneratedEvent).Type)
	assert.Len(t, h.published(messaging.EventAlertResolved), 2)
}

func TestAlerts_ScanCatchesThresholdChange(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "ALR-2", false, 0)
	h.receive(t, p.ID, 5)
	assert.Empty(t, unresolved(t, h, p.ID))

	_, err := h.catalog.Update(h.ctx, p.ID, service.UpdateProductRequest{MinStock: intPtr(5)})
	require.NoError(t, err)

	alerts := unresolved(t, h, p.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertLowStock, alerts[0].Type)

	raised, err := h.alerts.EvaluateProduct(h.ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestAlerts_Acknowledge(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "ALR-3", false, 5)
	alerts := unresolved(t, h, p.ID)
	require.Len(t, alerts, 1)

	acked, err := h.alerts.Acknowledge(h.ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "user-1", *acked.AcknowledgedBy)

	// Acknowledged alerts still block duplicates.
	result, err := h.alerts.ScanAndGenerate(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Raised)

	h.receive(t, p.ID, 20)
	_, err = h.alerts.Acknowledge(h.ctx, alerts[0].ID)
	assert.True(t, errors.Is(err, errors.ErrUnprocessable))
}

func TestAlerts_InactiveProductResolves(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "ALR-4", false, 5)
	require.Len(t, unresolved(t, h, p.ID), 1)

	require.NoError(t, h.catalog.Deactivate(h.ctx, p.ID))
	assert.Empty(t, unresolved(t, h, p.ID))

	result, err := h.alerts.ScanAndGenerate(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Raised)
}
