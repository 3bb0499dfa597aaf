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

// AlertHandler handles alert endpoints
type AlertHandler struct {
	scanner *service.AlertScanner
	logger  *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(scanner *service.AlertScanner, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		scanner: scanner,
		logger:  log,
	}
}

// List lists alerts, filtered by ?product_id=, ?status= or ?unresolved=true
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.Pagination(r, defaultPageSize, maxPageSize)

	unresolved, err := queryBool(r, "unresolved")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	f := domain.AlertFilter{
		ProductID:  queryString(r, "product_id"),
		Unresolved: unresolved,
		Limit:      limit,
		Offset:     offset,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.AlertStatus(s)
		switch status {
		case domain.AlertOpen, domain.AlertAcknowledged, domain.AlertResolved:
			f.Status = &status
		default:
			httputil.Error(w, r, errors.BadRequest("invalid status parameter"))
			return
		}
	}

	alerts, total, err := h.scanner.List(r.Context(), f)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, &httputil.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  int64(total),
	})
}

// Scan evaluates every tracked product of the tenant
func (h *AlertHandler) Scan(w http.ResponseWriter, r *http.Request) {
	result, err := h.scanner.ScanAndGenerate(r.Context())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Acknowledge acknowledges an alert as the calling user
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.scanner.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}
