package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/stockledger/internal/inventory/countsheet"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/httputil"
	"github.com/medflow/stockledger/pkg/logger"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxSheetSize    = 10 << 20
)

// CountHandler handles inventory count endpoints
type CountHandler struct {
	service *service.CountService
	logger  *logger.Logger
}

// NewCountHandler creates a new count handler
func NewCountHandler(svc *service.CountService, log *logger.Logger) *CountHandler {
	return &CountHandler{
		service: svc,
		logger:  log,
	}
}

// RecordLinesRequest carries counted quantities
type RecordLinesRequest struct {
	Lines []service.CountEntry `json:"lines" validate:"required,min=1,dive"`
}

// Start opens a count and snapshots expected quantities
func (h *CountHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req service.StartCountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	detail, err := h.service.Start(r.Context(), req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, detail)
}

// Get gets a count with its lines
func (h *CountHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// RecordLines records counted quantities
func (h *CountHandler) RecordLines(w http.ResponseWriter, r *http.Request) {
	var req RecordLinesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	detail, err := h.service.Record(r.Context(), chi.URLParam(r, "id"), req.Lines)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// Complete closes counting
func (h *CountHandler) Complete(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, count)
}

// Approve posts the count's corrections to the ledger
func (h *CountHandler) Approve(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, count)
}

// Cancel abandons the count
func (h *CountHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, count)
}

// ExportSheet serves the count lines as an xlsx counting sheet
func (h *CountHandler) ExportSheet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := countsheet.Export(&buf, detail); err != nil {
		h.logger.Error().Err(err).Str("count_id", detail.Count.ID).Msg("failed to render count sheet")
		httputil.Error(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s.xlsx", detail.Count.CountNumber)
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

// ImportSheet records the quantities of a filled-in counting sheet uploaded
// as the multipart field "file". Nothing is recorded if any row is unusable.
func (h *CountHandler) ImportSheet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSheetSize)
	if err := r.ParseMultipartForm(maxSheetSize); err != nil {
		httputil.Error(w, r, errors.BadRequest("invalid multipart upload: "+err.Error()))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, r, errors.BadRequest("missing file field"))
		return
	}
	defer file.Close()

	entries, rowErrs, err := countsheet.Parse(file)
	if err != nil {
		httputil.Error(w, r, errors.BadRequest(err.Error()))
		return
	}
	if len(rowErrs) > 0 {
		details := make(map[string]string, len(rowErrs))
		for _, re := range rowErrs {
			details[fmt.Sprintf("row %d", re.Row)] = re.Message
		}
		httputil.Error(w, r, errors.Validation(details))
		return
	}
	if len(entries) == 0 {
		httputil.Error(w, r, errors.Validation(map[string]string{"file": "no counted rows"}))
		return
	}

	detail, err := h.service.Record(r.Context(), chi.URLParam(r, "id"), entries)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}
