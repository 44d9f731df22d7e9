package data

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	"github.com/rs/zerolog"
)

// LatestMigrationVersion must be bumped with every new migration file
const LatestMigrationVersion uint = 2

// ErrMigrationDowngrade is returned when the database is newer than this binary
var ErrMigrationDowngrade = errors.New("database downgrade detected")

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLogger adapts zerolog to the migrate.Logger interface
type migrationLogger struct {
	log zerolog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	m.log.Debug().Msg(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (m *migrationLogger) Verbose() bool {
	return false
}

// applyMigrations brings the ledger schema up to LatestMigrationVersion
func applyMigrations(db *sql.DB, log zerolog.Logger) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := httpfs.New(http.FS(migrationFS), "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("migrations", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = &migrationLogger{log: log}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state at version %d, manual intervention required", version)
	}
	if version > LatestMigrationVersion {
		return fmt.Errorf("%w: db_version=%d latest=%d", ErrMigrationDowngrade, version, LatestMigrationVersion)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Debug().Uint("from_version", version).Uint("to_version", LatestMigrationVersion).Msg("ledger schema up to date")
	return nil
}
