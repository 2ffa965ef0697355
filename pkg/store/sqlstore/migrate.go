package sqlstore

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "vaultsweep_schema_migrations"

// withMigrationsTable keeps migration bookkeeping out of the default
// schema_migrations table, which other tools sharing the database may own.
func withMigrationsTable(dbURL string) string {
	if strings.Contains(dbURL, "?") {
		return dbURL + "&x-migrations-table=" + migrationsTable
	}
	return dbURL + "?x-migrations-table=" + migrationsTable
}

func newMigrate(dbURL string) (*migrate.Migrate, error) {
	if dbURL == "" {
		return nil, errors.New("database url is required")
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, withMigrationsTable(dbURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrationState describes the schema version of a database.
type MigrationState struct {
	Version uint
	Dirty   bool
	// Applied is false when no migration has run yet.
	Applied bool
}

// Migrate applies every pending migration and returns the resulting state.
func Migrate(dbURL string) (MigrationState, error) {
	m, err := newMigrate(dbURL)
	if err != nil {
		return MigrationState{}, err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationState{}, fmt.Errorf("migration failed: %w", err)
	}
	return state(m)
}

// MigrateDown rolls back steps migrations.
func MigrateDown(dbURL string, steps int) (MigrationState, error) {
	m, err := newMigrate(dbURL)
	if err != nil {
		return MigrationState{}, err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Steps(-steps); err != nil {
		return MigrationState{}, fmt.Errorf("rollback failed: %w", err)
	}
	return state(m)
}

// MigrationStatus reports the current schema version.
func MigrationStatus(dbURL string) (MigrationState, error) {
	m, err := newMigrate(dbURL)
	if err != nil {
		return MigrationState{}, err
	}
	defer func() { _, _ = m.Close() }()
	return state(m)
}

func state(m *migrate.Migrate) (MigrationState, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{}, nil
	}
	if err != nil {
		return MigrationState{}, err
	}
	return MigrationState{Version: version, Dirty: dirty, Applied: true}, nil
}

// MigrationFiles lists the embedded up migrations in order.
func MigrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func redact(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return dbURL
	}
	return u.Redacted()
}
