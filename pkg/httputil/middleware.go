package httputil

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/errors"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/tenant"
)

// RequestID takes X-Request-ID from the gateway, or mints one, and uses it as
// the correlation ID for everything the request triggers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), requestID)))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			// Tenant and actor are attached further down the chain, so
			// log what the gateway forwarded.
			tenantID := r.Header.Get("X-Tenant-ID")
			actorID := r.Header.Get("X-User-ID")

			event := log.Info()
			if wrapped.statusCode >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", logger.CorrelationID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("tenant_id", tenantID).
				Str("actor_id", actorID).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Str("request_id", logger.CorrelationID(r.Context())).
						Msg("panic recovered")

					Error(w, r, errors.Internal("panic recovered"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// TenantMiddleware scopes the request to the tenant in X-Tenant-ID, which
// the gateway sets. A missing or malformed ID returns 403 Forbidden.
// /health is exempt for monitoring.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		tenantID, err := tenant.Parse(r.Header.Get("X-Tenant-ID"))
		if err != nil {
			Error(w, r, errors.New("TENANT_REQUIRED", "errors.tenant_required", http.StatusForbidden))
			return
		}

		next.ServeHTTP(w, r.WithContext(tenant.WithTenantID(r.Context(), tenantID)))
	})
}

// ActorMiddleware attaches the calling user, forwarded by the gateway in
// X-User-* headers, to the request context. Requests without a user ID run
// as the system actor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := actor.SystemActor()
		if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
			a = &actor.Actor{
				ID:   id,
				Name: strings.TrimSpace(r.Header.Get("X-User-Name")),
				Role: strings.TrimSpace(r.Header.Get("X-User-Role")),
			}
		}
		a.TenantID, _ = tenant.TenantID(r.Context())

		next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
	})
}
