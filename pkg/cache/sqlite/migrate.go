package sqlite

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tokend/pkg/cache/sqlite/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// newMigrator builds a migrate instance over the embedded schema files. The
// returned instance must not be closed since it would close the shared *sql.DB.
func (b *Backend) newMigrator() (*migrate.Migrate, error) {
	// 1. Create the SQLite migration driver
	driver, err := migratesqlite.WithInstance(b.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: migration driver: %w", err)
	}

	// 2. Create the iofs (embedded filesystem) source driver
	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: migration source: %w", err)
	}

	// 3. Create the migrate instance to run migrations
	return migrate.NewWithInstance("iofs", source, "", driver)
}

// ApplyMigrations brings the cache schema up to date.
func (b *Backend) ApplyMigrations() error {
	m, err := b.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite cache: migrate up: %w", err)
	}
	return nil
}

// RollbackMigrations removes the cache schema entirely.
func (b *Backend) RollbackMigrations() error {
	m, err := b.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite cache: migrate down: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version and whether the last
// migration was left dirty.
func (b *Backend) SchemaVersion() (uint, bool, error) {
	m, err := b.newMigrator()
	if err != nil {
		return 0, false, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
