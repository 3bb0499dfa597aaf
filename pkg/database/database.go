package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/medflow/stockledger/pkg/config"
	"github.com/medflow/stockledger/pkg/logger"
)

// DB is the inventory connection pool. Every query runs inside a tenant
// transaction opened by WithTenantRLS.
type DB struct {
	*sqlx.DB
	logger      *logger.Logger
	searchPath  string
	lockTimeout time.Duration
}

// New opens the pool, retrying until the database answers or
// cfg.ConnectTimeout passes. Compose starts postgres alongside the service.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	log = log.WithComponent("database")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = cfg.ConnectTimeout
	var b backoff.BackOff = policy
	if cfg.ConnectTimeout <= 0 {
		b = &backoff.StopBackOff{}
	}

	var db *sqlx.DB
	connect := func() error {
		var err error
		db, err = sqlx.Connect("postgres", cfg.DSN())
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("database not reachable yet")
	}
	if err := backoff.RetryNotify(connect, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return Wrap(db, log, cfg.SearchPath, cfg.LockTimeout), nil
}

// Wrap adapts an existing sqlx handle. Tests use it with sqlmock and
// testcontainers connections.
func Wrap(db *sqlx.DB, log *logger.Logger, searchPath string, lockTimeout time.Duration) *DB {
	return &DB{
		DB:          db,
		logger:      log,
		searchPath:  searchPath,
		lockTimeout: lockTimeout,
	}
}

// Health pings the database and reports pool usage.
func (db *DB) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}

	stats := db.Stats()
	return map[string]string{
		"status": "up",
		"open":   strconv.Itoa(stats.OpenConnections),
		"in_use": strconv.Itoa(stats.InUse),
		"waits":  strconv.FormatInt(stats.WaitCount, 10),
	}
}

// inTx runs fn in a transaction, committing on success. A panic in fn rolls
// back and propagates.
func (db *DB) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && db.logger != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
