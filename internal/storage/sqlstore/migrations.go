package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// newMigrator wraps db in a golang-migrate instance reading from the
// embedded migration set for this dialect, the same ErrNoChange-tolerant
// wrapper the teacher's platform.RunGlobalMigrations uses, adapted to read
// from an embedded fs.FS instead of a directory on disk so the binary
// carries its own schema.
func (s *Store) newMigrator() (*migrate.Migrate, error) {
	sub, err := iofs.New(migrationsFS, "migrations/"+s.dialect.name())
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}

	var dbDriver database.Driver
	switch s.dialect.name() {
	case "mysql":
		dbDriver, err = mysql.WithInstance(s.db, &mysql.Config{})
		if err != nil {
			return nil, fmt.Errorf("creating mysql migrate driver: %w", err)
		}
	default:
		dbDriver, err = postgres.WithInstance(s.db, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("creating postgres migrate driver: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", sub, s.dialect.name(), dbDriver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// applyMigrations runs every pending migration, treating "nothing to do" as
// success rather than an error (matches the teacher's runMigrations helper).
func (s *Store) applyMigrations() error {
	m, err := s.newMigrator()
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// migratedVersion reports the currently applied migration version, or 0 if
// migrations have never run.
func (s *Store) migratedVersion() (int, error) {
	m, err := s.newMigrator()
	if err != nil {
		return 0, err
	}
	defer func() { _, _ = m.Close() }()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("schema at version %d is dirty, needs manual repair", v)
	}
	return int(v), nil
}
