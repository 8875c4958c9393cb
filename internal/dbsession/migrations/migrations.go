// Package migrations embeds the schema migrations for the asset store's
// SQLite database and drives them through golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Up runs all pending migrations against db, bringing the schema to the
// latest embedded version. A fresh database and an up-to-date one both
// return nil.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Status reports where a database's schema sits relative to the
// migrations embedded in the running binary.
type Status struct {
	Version uint
	Dirty   bool
	Latest  uint
}

// UpToDate reports whether the database is clean and at Latest.
func (s Status) UpToDate() bool {
	return !s.Dirty && s.Version == s.Latest
}

// CheckStatus reads the database's current schema version without
// applying any migration. It returns ErrNilVersion-derived errors as a
// zero Status with Latest still populated, so callers can offer a
// version number even against a database that predates versioning.
func CheckStatus(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, fmt.Errorf("creating migrate instance: %w", err)
	}

	latest, err := readLatestVersion()
	if err != nil {
		return Status{}, fmt.Errorf("determining latest schema version: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return Status{Latest: latest}, fmt.Errorf("database has no schema version (needs migration)")
		}
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}

	status := Status{Version: version, Dirty: dirty, Latest: latest}
	switch {
	case dirty:
		return status, fmt.Errorf("database is in a dirty state at version %d", version)
	case version < latest:
		return status, fmt.Errorf("database is at version %d but latest is %d", version, latest)
	case version > latest:
		return status, fmt.Errorf("database version %d is ahead of binary's known version %d", version, latest)
	default:
		return status, nil
	}
}

// Repair clears a dirty flag left by a migration that panicked or was
// killed mid-step, forcing the schema_migrations row back to version
// without re-running that migration's statements, then resumes normal
// Up. It has no effect on a database that isn't dirty.
func Repair(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if !dirty {
		return nil
	}

	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("forcing schema version %d: %w", version, err)
	}
	return Up(db)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("creating source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("creating database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

func readLatestVersion() (uint, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer sourceDriver.Close()
	return latestVersion(sourceDriver)
}

func latestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latest := version
	for {
		next, err := src.Next(latest)
		if err != nil {
			// Any error from Next() means there are no more migrations.
			break
		}
		latest = next
	}
	return latest, nil
}
