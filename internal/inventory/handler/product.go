package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/stockledger/internal/inventory/domain"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/httputil"
	"github.com/medflow/stockledger/pkg/logger"
)

// ProductHandler handles catalog endpoints
type ProductHandler struct {
	service *service.CatalogService
	logger  *logger.Logger
}

// NewProductHandler creates a new product handler
func NewProductHandler(svc *service.CatalogService, log *logger.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  log,
	}
}

// List lists products, optionally filtered by category, tracked and active
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.Pagination(r, defaultPageSize, maxPageSize)

	tracked, err := queryBool(r, "tracked")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	active, err := queryBool(r, "active")
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	products, total, err := h.service.List(r.Context(), domain.ProductFilter{
		Category:    queryString(r, "category"),
		TrackedOnly: tracked,
		ActiveOnly:  active,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, products, &httputil.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  int64(total),
	})
}

// Get gets a product by ID
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}

// Create creates a product
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	product, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, product)
}

// Update changes a product's thresholds and descriptive fields
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProductRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	product, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, product)
}

// Deactivate deactivates a product. Products are never deleted since
// ledger entries reference them.
func (h *ProductHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}
