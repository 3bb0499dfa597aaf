package service

import (
	"context"
	"fmt"

	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/errors"
)

// evaluateAlerts raises or resolves the product's stock alerts from its
// current position. At most one unresolved alert exists per product and
// type. The caller holds the product lock.
func (e *Engine) evaluateAlerts(ctx context.Context, tx store.Tx, product *domain.Product, out *outbox) error {
	onHand, err := tx.OnHand(ctx, product.ID)
	if err != nil {
		return err
	}
	reserved, err := tx.ReservedActive(ctx, product.ID)
	if err != nil {
		return err
	}
	available := onHand - reserved

	var want domain.AlertType
	raise := false
	if product.IsActive {
		want, raise = domain.AlertTypeFor(product.Status(onHand, reserved))
	}

	for _, t := range []domain.AlertType{domain.AlertLowStock, domain.AlertOutOfStock} {
		existing, err := tx.FindUnresolvedAlert(ctx, product.ID, t)
		if err != nil {
			return err
		}

		if raise && t == want {
			if existing != nil {
				continue
			}
			alert := &domain.Alert{
				ProductID:                product.ID,
				Type:                     t,
				Status:                   domain.AlertOpen,
				CurrentStock:             onHand,
				Available:                available,
				MinStock:                 product.MinStock,
				SuggestedReorderQuantity: product.SuggestedReorderQuantity(available),
				CreatedAt:                e.now(),
			}
			if err := tx.CreateAlert(ctx, alert); err != nil {
				return err
			}
			out.raised = append(out.raised, alert.Event(product.Name))
			continue
		}

		if existing == nil {
			continue
		}
		now := e.now()
		existing.Status = domain.AlertResolved
		existing.ResolvedAt = &now
		if err := tx.UpdateAlert(ctx, existing); err != nil {
			return err
		}
		out.resolved = append(out.resolved, *existing)
	}
	return nil
}

// AlertScanner generates low and out of stock alerts. Postings evaluate
// alerts inline; the scanner catches products whose position changed
// without a posting, such as threshold edits or expired reservations.
type AlertScanner struct {
	*Engine
}

// NewAlertScanner creates a new alert scanner
func NewAlertScanner(engine *Engine) *AlertScanner {
	return &AlertScanner{Engine: engine}
}

// ScanResult summarizes a scan.
type ScanResult struct {
	Scanned  int                 `json:"scanned"`
	Raised   []domain.AlertEvent `json:"raised"`
	Resolved int                 `json:"resolved"`
}

// ScanAndGenerate evaluates every tracked product of the tenant in ctx.
// Failures on one product are logged and the scan continues.
func (s *AlertScanner) ScanAndGenerate(ctx context.Context) (*ScanResult, error) {
	var products []domain.Product
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		products, _, err = tx.ListProducts(ctx, domain.ProductFilter{TrackedOnly: true})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ScanAndGenerate: list products: %w", err)
	}

	result := &ScanResult{Raised: []domain.AlertEvent{}}
	for _, p := range products {
		raised, resolved, err := s.evaluate(ctx, p.ID)
		if err != nil {
			s.logger.For(ctx).Error().Err(err).Str("product_id", p.ID).Msg("alert evaluation failed")
			continue
		}
		result.Scanned++
		result.Raised = append(result.Raised, raised...)
		result.Resolved += resolved
	}

	if len(result.Raised) > 0 || result.Resolved > 0 {
		s.logger.For(ctx).Info().
			Int("scanned", result.Scanned).
			Int("raised", len(result.Raised)).
			Int("resolved", result.Resolved).
			Msg("alert scan finished")
	}
	return result, nil
}

// EvaluateProduct evaluates a single product and returns the alerts it raised.
func (s *AlertScanner) EvaluateProduct(ctx context.Context, productID string) ([]domain.AlertEvent, error) {
	raised, _, err := s.evaluate(ctx, productID)
	return raised, err
}

func (s *AlertScanner) evaluate(ctx context.Context, productID string) ([]domain.AlertEvent, int, error) {
	out, err := s.commit(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		// Touching the product makes the unit of work evaluate it.
		if _, err := tx.LockProduct(ctx, productID); err != nil {
			return err
		}
		out.touch(productID)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out.raised, len(out.resolved), nil
}

// Acknowledge marks an open alert as seen. It stays unresolved.
func (s *AlertScanner) Acknowledge(ctx context.Context, alertID string) (*domain.Alert, error) {
	var alert *domain.Alert
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, out *outbox) error {
		var err error
		alert, err = tx.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		switch alert.Status {
		case domain.AlertAcknowledged:
			return nil
		case domain.AlertResolved:
			return errors.Unprocessable("a resolved alert cannot be acknowledged")
		}
		now := s.now()
		by := actor.IDFromContext(ctx)
		alert.Status = domain.AlertAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = &by
		return tx.UpdateAlert(ctx, alert)
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// List lists alerts, newest first.
func (s *AlertScanner) List(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, int, error) {
	var (
		alerts []domain.Alert
		total  int
	)
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		alerts, total, err = tx.ListAlerts(ctx, f)
		return err
	})
	return alerts, total, err
}
