// Package tenant carries the clinic (tenant) ID through a request or job.
// Storage reads it from the context on every unit of work; there is no
// default tenant.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNoTenantInContext is returned when tenant context is missing
	ErrNoTenantInContext = errors.New("no tenant in context")
	// ErrInvalidTenantID is returned for tenant IDs that are not UUIDs
	ErrInvalidTenantID = errors.New("tenant id must be a UUID")
)

type contextKey struct{}

// Parse normalizes a tenant ID received from a header or an event
func Parse(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidTenantID
	}
	return id.String(), nil
}

// WithTenantID returns a copy of ctx scoped to tenantID
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// TenantID extracts tenant ID from context
// Returns ErrNoTenantInContext if tenant ID is not found
func TenantID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}
