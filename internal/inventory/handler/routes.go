// Package handler exposes the stock engine over HTTP.
package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/logger"
)

// Handlers groups the inventory HTTP handlers
type Handlers struct {
	Products     *ProductHandler
	Stock        *StockHandler
	Reservations *ReservationHandler
	Counts       *CountHandler
	Alerts       *AlertHandler
}

// NewHandlers creates the handlers for the given services
func NewHandlers(
	catalog *service.CatalogService,
	ledger *service.LedgerService,
	reservations *service.ReservationService,
	counts *service.CountService,
	alerts *service.AlertScanner,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		Products:     NewProductHandler(catalog, log),
		Stock:        NewStockHandler(ledger, log),
		Reservations: NewReservationHandler(reservations, log),
		Counts:       NewCountHandler(counts, log),
		Alerts:       NewAlertHandler(alerts, log),
	}
}

// Routes mounts the inventory API. It is meant for
// r.Route("/api/v1/inventory", h.Routes).
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.Products.List)
		r.Post("/", h.Products.Create)
		r.Get("/{id}", h.Products.Get)
		r.Put("/{id}", h.Products.Update)
		r.Delete("/{id}", h.Products.Deactivate)

		r.Get("/{id}/stock", h.Stock.Stock)
		r.Get("/{id}/reconciliation", h.Stock.Reconciliation)
		r.Get("/{id}/ledger", h.Stock.Ledger)
		r.Get("/{id}/lots", h.Stock.Lots)
		r.Post("/{id}/lots", h.Stock.Receive)
		r.Post("/{id}/allocation", h.Stock.Allocation)
		r.Post("/{id}/consume", h.Stock.Consume)
	})

	r.Post("/lots/{id}/quarantine", h.Stock.Quarantine)
	r.Delete("/lots/{id}/quarantine", h.Stock.ReleaseQuarantine)

	r.Post("/ledger", h.Stock.PostEntry)

	r.Route("/reservations", func(r chi.Router) {
		r.Get("/", h.Reservations.ListByReference)
		r.Post("/", h.Reservations.Create)
		r.Get("/{id}", h.Reservations.Get)
		r.Post("/{id}/consume", h.Reservations.Consume)
		r.Post("/{id}/release", h.Reservations.Release)
	})

	r.Route("/counts", func(r chi.Router) {
		r.Post("/", h.Counts.Start)
		r.Get("/{id}", h.Counts.Get)
		r.Put("/{id}/lines", h.Counts.RecordLines)
		r.Post("/{id}/complete", h.Counts.Complete)
		r.Post("/{id}/approve", h.Counts.Approve)
		r.Post("/{id}/cancel", h.Counts.Cancel)
		r.Get("/{id}/sheet", h.Counts.ExportSheet)
		r.Post("/{id}/sheet", h.Counts.ImportSheet)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.Alerts.List)
		r.Post("/scan", h.Alerts.Scan)
		r.Put("/{id}/acknowledge", h.Alerts.Acknowledge)
	})
}
