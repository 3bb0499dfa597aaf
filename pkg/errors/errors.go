// Package errors carries the application error type rendered by the HTTP
// layer. Every AppError wraps a sentinel so callers branch with errors.Is and
// never on codes or messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/medflow/stockledger/pkg/i18n"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("resource conflict")
	ErrInternal      = errors.New("internal server error")
	ErrValidation    = errors.New("validation error")
	ErrUnprocessable = errors.New("unprocessable entity")
	ErrForbidden     = errors.New("forbidden")
)

// resourceParam names the message parameter that holds a resources.* key.
// It is translated at render time so the resource name follows the locale.
const resourceParam = "resource"

// AppError is an error with an HTTP status, a stable code and a message key.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"`
	Params     map[string]string `json:"-"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`

	resourceKey string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Localize renders the message in the locale carried by ctx.
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	params := e.Params
	if e.resourceKey != "" {
		params = map[string]string{}
		maps.Copy(params, e.Params)
		params[resourceParam] = i18n.TFromContext(ctx, "resources."+e.resourceKey)
	}
	return i18n.TFromContext(ctx, e.MessageKey, params)
}

// WithDetail sets a single detail entry.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Domain builds a business-rule error wrapping a sentinel so callers can
// match it with errors.Is while the HTTP layer renders code and details.
func Domain(sentinel error, code, messageKey string, statusCode int, params map[string]string) *AppError {
	return &AppError{
		Err:        sentinel,
		Code:       code,
		Message:    i18n.T(messageKey, params),
		MessageKey: messageKey,
		Params:     params,
		StatusCode: statusCode,
		Details:    maps.Clone(params),
	}
}

// New builds an error from a message key, wrapping the generic sentinel for
// statusCode.
func New(code, messageKey string, statusCode int) *AppError {
	return Domain(sentinelFor(statusCode), code, messageKey, statusCode, nil)
}

func sentinelFor(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusInternalServerError:
		return ErrInternal
	}
	return nil
}

// NotFoundWithKey reports a missing resource. resourceKey names an entry
// under resources.* in the message catalogues.
func NotFoundWithKey(resourceKey string) *AppError {
	err := Domain(ErrNotFound, "NOT_FOUND", "errors.not_found", http.StatusNotFound,
		map[string]string{resourceParam: i18n.T("resources." + resourceKey)})
	err.Details = nil
	err.resourceKey = resourceKey
	return err
}

// BadRequest keeps message as the English text; the localized one is generic.
func BadRequest(message string) *AppError {
	err := Domain(ErrBadRequest, "BAD_REQUEST", "errors.bad_request", http.StatusBadRequest, nil)
	err.Message = message
	return err
}

func Conflict(message string) *AppError {
	err := Domain(ErrConflict, "CONFLICT", "errors.conflict", http.StatusConflict, nil)
	err.Message = message
	return err
}

func Internal(message string) *AppError {
	err := Domain(ErrInternal, "INTERNAL_ERROR", "errors.internal", http.StatusInternalServerError, nil)
	err.Message = message
	return err
}

func Unprocessable(message string) *AppError {
	err := Domain(ErrUnprocessable, "UNPROCESSABLE", "errors.unprocessable", http.StatusUnprocessableEntity, nil)
	err.Message = message
	return err
}

// Validation reports field errors. details maps field to problem.
func Validation(details map[string]string) *AppError {
	err := Domain(ErrValidation, "VALIDATION_ERROR", "errors.validation_failed", http.StatusBadRequest, nil)
	err.Message = "validation failed"
	err.Details = details
	return err
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
