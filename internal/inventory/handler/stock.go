package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/pkg/httputil"
	"github.com/medflow/stockledger/pkg/logger"
)

// StockHandler handles ledger, lot and stock level endpoints
type StockHandler struct {
	service *service.LedgerService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.LedgerService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

// PostEntryRequest is the body of a manual ledger posting
type PostEntryRequest struct {
	ProductID string           `json:"product_id" validate:"required"`
	LotID     *string          `json:"lot_id,omitempty"`
	Delta     int              `json:"delta"`
	Reason    domain.Reason    `json:"reason" validate:"required"`
	Reference domain.Reference `json:"reference"`
}

// ReceiveRequest is the body of a lot receipt
type ReceiveRequest struct {
	LotNumber    string            `json:"lot_number" validate:"required,max=100"`
	Quantity     int               `json:"quantity" validate:"gt=0"`
	ExpiryDate   *time.Time        `json:"expiry_date,omitempty"`
	ReceivedDate *time.Time        `json:"received_date,omitempty"`
	Reference    *domain.Reference `json:"reference,omitempty"`
}

// ConsumeRequest is the body of a direct consumption
type ConsumeRequest struct {
	Quantity  int              `json:"quantity" validate:"gt=0"`
	Reference domain.Reference `json:"reference"`
}

// PostEntry appends a ledger entry
func (h *StockHandler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req PostEntryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	entry, err := h.service.PostEntry(r.Context(), domain.PostRequest{
		ProductID: req.ProductID,
		LotID:     req.LotID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		Reference: req.Reference,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, entry)
}

// Stock returns the product's stock level
func (h *StockHandler) Stock(w http.ResponseWriter, r *http.Request) {
	level, err := h.service.GetStockLevel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, level)
}

// Reconciliation compares materialized lot quantities with the ledger
func (h *StockHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}

// Ledger lists the product's ledger entries in posting order
func (h *StockHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.Pagination(r, defaultPageSize, maxPageSize)

	from, err := queryTime(r, "from")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	entries, total, err := h.service.ListEntries(r.Context(), store.LedgerFilter{
		ProductID:     chi.URLParam(r, "id"),
		LotID:         queryString(r, "lot_id"),
		ReferenceType: queryString(r, "reference_type"),
		ReferenceID:   queryString(r, "reference_id"),
		From:          from,
		To:            to,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  int64(total),
	})
}

// Lots lists the product's lots in FEFO order
func (h *StockHandler) Lots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ListLots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Receive creates a lot and posts its receipt
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	lot, entry, err := h.service.ReceiveLot(r.Context(), service.ReceiveLotRequest{
		ProductID:    chi.URLParam(r, "id"),
		LotNumber:    req.LotNumber,
		Quantity:     req.Quantity,
		ExpiryDate:   req.ExpiryDate,
		ReceivedDate: req.ReceivedDate,
		Reference:    req.Reference,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"lot":   lot,
		"entry": entry,
	})
}

// Allocation previews the FEFO allocation of ?quantity= units without
// changing stock
func (h *StockHandler) Allocation(w http.ResponseWriter, r *http.Request) {
	quantity, err := queryInt(r, "quantity")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	allocations, err := h.service.SelectLotForConsumption(r.Context(), chi.URLParam(r, "id"), quantity)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocations)
}

// Consume takes unreserved stock out of the product
func (h *StockHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	entries, err := h.service.ConsumeDirect(r.Context(), chi.URLParam(r, "id"), req.Quantity, req.Reference)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// Quarantine blocks a lot from allocation
func (h *StockHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.QuarantineLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// ReleaseQuarantine makes a quarantined lot allocatable again
func (h *StockHandler) ReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.ReleaseQuarantine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}
