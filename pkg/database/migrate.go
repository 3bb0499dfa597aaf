package database

import (
	stderrors "errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationsTable is the bookkeeping table golang-migrate writes to.
const MigrationsTable = "inventory_schema_migrations"

// Migrate applies every pending up migration found at the root of fsys.
func (db *DB) Migrate(fsys fs.FS) error {
	source, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db.DB.DB, &postgres.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			if db.logger != nil {
				db.logger.Info().Msg("no migrations to apply")
			}
			return nil
		}
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if db.logger != nil {
		db.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations completed")
	}
	return nil
}
