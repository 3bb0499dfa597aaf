package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/httputil"
	"github.com/medflow/stockledger/pkg/logger"
)

// ReservationHandler handles reservation endpoints
type ReservationHandler struct {
	service *service.ReservationService
	logger  *logger.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(svc *service.ReservationService, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		service: svc,
		logger:  log,
	}
}

// Create reserves stock
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.ReserveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	reservation, err := h.service.Reserve(r.Context(), req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, reservation)
}

// ListByReference lists the reservations held for ?reference_type=&reference_id=
func (h *ReservationHandler) ListByReference(w http.ResponseWriter, r *http.Request) {
	ref := domain.Reference{
		Type: r.URL.Query().Get("reference_type"),
		ID:   r.URL.Query().Get("reference_id"),
	}
	if ref.Type == "" || ref.ID == "" {
		httputil.Error(w, r, errors.BadRequest("reference_type and reference_id are required"))
		return
	}

	reservations, err := h.service.ListByReference(r.Context(), ref)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reservations)
}

// Get gets a reservation by ID
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reservation)
}

// Consume turns the reservation into ledger consumption
func (h *ReservationHandler) Consume(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Consume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// Release frees the reserved quantity
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.service.Release(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reservation)
}
