// Package logger wraps zerolog with the fields every stock service log
// line carries.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/medflow/stockledger/pkg/actor"
	"github.com/medflow/stockledger/pkg/tenant"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// New creates a new logger instance. Development gets a console writer at
// debug level, every other environment emits JSON at info level.
func New(serviceName string, environment string) *Logger {
	var output io.Writer = os.Stdout
	level := zerolog.InfoLevel

	if environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent returns a logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}

type correlationKey struct{}

// WithCorrelationID tags ctx with the ID that ties an HTTP request to the
// events it publishes and to the work consumers do for them.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the ID set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// For returns a logger carrying the correlation ID, tenant and actor of ctx,
// when present
func (l *Logger) For(ctx context.Context) *Logger {
	c := l.Logger.With()
	if id := CorrelationID(ctx); id != "" {
		c = c.Str("correlation_id", id)
	}
	if tenantID, err := tenant.TenantID(ctx); err == nil {
		c = c.Str("tenant_id", tenantID)
	}
	if a := actor.FromContext(ctx); a != nil && !a.IsSystem() {
		c = c.Str("actor_id", a.ID)
	}
	return &Logger{Logger: c.Logger()}
}
