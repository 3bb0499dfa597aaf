package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/i18n"
)

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody represents an error in the response
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Meta contains pagination and other metadata
type Meta struct {
	Limit  int   `json:"limit,omitempty"`
	Offset int   `json:"offset,omitempty"`
	Total  int64 `json:"total,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	JSONWithMeta(w, statusCode, data, nil)
}

// JSONWithMeta sends a JSON response with metadata
func JSONWithMeta(w http.ResponseWriter, statusCode int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
		Meta:    meta,
	})
}

// Error sends a localized error response using the request's locale.
// Errors that are not AppErrors are reported as 500 without leaking their text.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	body := &ErrorBody{
		Code:    "INTERNAL_ERROR",
		Message: i18n.TFromContext(r.Context(), "errors.internal"),
	}
	status := http.StatusInternalServerError

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		status = appErr.StatusCode
		body = &ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Localize(r.Context()),
			Details: appErr.Details,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Error: body})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// DecodeJSON decodes a single JSON object from the body into v. Unknown
// fields and trailing data are rejected.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.BadRequest("invalid JSON body: " + err.Error())
	}
	if dec.More() {
		return errors.BadRequest("invalid JSON body: unexpected data after the object")
	}
	return nil
}

// Pagination reads limit and offset query parameters. limit is clamped to
// [1, maxLimit] and defaults to defaultLimit.
func Pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
