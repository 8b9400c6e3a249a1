package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationState describes the schema version after a migration run.
type MigrationState struct {
	Version uint
	Dirty   bool
	Changed bool
}

// RunMigrations applies pending up migrations.
func RunMigrations(databaseURL string, logger *zap.Logger) (MigrationState, error) {
	return migrateWith(databaseURL, logger, func(m *migrate.Migrate) error { return m.Up() })
}

// RollbackMigrations reverts the given number of migrations.
func RollbackMigrations(databaseURL string, steps int, logger *zap.Logger) (MigrationState, error) {
	if steps <= 0 {
		return MigrationState{}, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return migrateWith(databaseURL, logger, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func migrateWith(databaseURL string, logger *zap.Logger, run func(*migrate.Migrate) error) (MigrationState, error) {
	var state MigrationState

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return state, fmt.Errorf("could not open database connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return state, fmt.Errorf("could not create postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return state, fmt.Errorf("could not create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return state, fmt.Errorf("could not create migrate instance: %w", err)
	}

	switch err := run(m); {
	case err == nil:
		state.Changed = true
	case errors.Is(err, migrate.ErrNoChange):
	default:
		return state, fmt.Errorf("could not run migrations: %w", err)
	}

	state.Version, state.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return state, fmt.Errorf("could not read schema version: %w", err)
	}

	logger.Info("migrations applied",
		zap.Uint("version", state.Version),
		zap.Bool("dirty", state.Dirty),
		zap.Bool("changed", state.Changed),
	)
	return state, nil
}
