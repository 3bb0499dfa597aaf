// Package actor identifies the user or system process performing a stock
// mutation. Every ledger entry records the actor's ID.
package actor

import "context"

// SystemActorID is recorded for sweeps, schedulers and event consumers.
const SystemActorID = "00000000-0000-0000-0000-000000000000"

// Actor is the caller as forwarded by the gateway
type Actor struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// IsSystem reports whether a is the system actor. A nil actor is.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == SystemActorID
}

type contextKey struct{}

// WithActor returns a copy of ctx carrying a
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the actor in ctx, or nil
func FromContext(ctx context.Context) *Actor {
	a, _ := ctx.Value(contextKey{}).(*Actor)
	return a
}

// IDFromContext returns the ID of the actor in ctx, falling back to the
// system actor.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.ID != "" {
		return a.ID
	}
	return SystemActorID
}

// SystemActor returns the actor background work runs as
func SystemActor() *Actor {
	return &Actor{ID: SystemActorID, Name: "System", Role: "system"}
}
