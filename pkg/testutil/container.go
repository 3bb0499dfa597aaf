// Package testutil provides testing utilities for the stock ledger: a
// shared PostgreSQL testcontainer with the schema migrated, sqlmock
// helpers for the tenant transaction preamble, and small assertions.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/medflow/stockledger/pkg/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// STOCKLEDGER_TEST_PG_IMAGE overrides the image, e.g. to match production.
const (
	imageEnv     = "STOCKLEDGER_TEST_PG_IMAGE"
	defaultImage = "postgres:15-alpine"

	testDatabase = "stockledger_test"
	superuser    = "test"
)

// PostgresContainer is a throwaway PostgreSQL instance. Its configured user
// is a superuser and bypasses row level security, so it runs migrations
// only; tests connect through ConnectAs.
type PostgresContainer struct {
	*postgres.PostgresContainer
	target *config.ConnTarget
}

// StartPostgres starts a container and waits until it accepts connections.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(GetEnvOrDefault(imageEnv, defaultImage)),
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(superuser),
		postgres.WithPassword(superuser),
		testcontainers.WithWaitStrategy(
			// postgres logs readiness twice: once for the init run, once for real.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	raw, err := container.ConnectionString(ctx, "sslmode=disable")
	if err == nil {
		var target *config.ConnTarget
		if target, err = config.ParseConnURL(raw); err == nil {
			return &PostgresContainer{PostgresContainer: container, target: target}, nil
		}
	}
	_ = container.Terminate(ctx)
	return nil, fmt.Errorf("failed to resolve container address: %w", err)
}

// ConnectAdmin connects as the superuser.
func (c *PostgresContainer) ConnectAdmin(ctx context.Context) (*sqlx.DB, error) {
	return c.ConnectAs(ctx, superuser, superuser)
}

// ConnectAs connects to the test database as role user.
func (c *PostgresContainer) ConnectAs(ctx context.Context, user, password string) (*sqlx.DB, error) {
	target := *c.target
	target.User, target.Password = user, password

	db, err := sqlx.ConnectContext(ctx, "postgres", target.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database as %s: %w", user, err)
	}
	return db, nil
}
