package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// openMigrator uses its own connection so the migration lock stays out of
// the repository pool. The returned func releases both.
func openMigrator(dsn string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, func() { m.Close(); db.Close() }, nil
}

// RunMigrations brings the schema at dsn up to the newest embedded version.
// A database left dirty by a failed migration is reported, not repaired.
func RunMigrations(dsn string) error {
	m, closeFn, err := openMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return errors.New("schema is dirty; fix the failed migration manually")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version, 0 for an empty database.
func SchemaVersion(dsn string) (uint, error) {
	m, closeFn, err := openMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	version, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
