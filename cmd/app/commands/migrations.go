package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// keyStoreMigrations maps a key store driver to its migration source.
var keyStoreMigrations = map[string]string{
	"postgres": "file://migrations/postgresql",
	"mysql":    "file://migrations/mysql",
}

// RunMigrations creates the encryption key tables for the postgres or mysql
// key store. Already applied migrations are skipped.
func RunMigrations(logger *slog.Logger, driver, connectionString string) error {
	source, ok := keyStoreMigrations[driver]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "no migrations for key store driver %q", driver)
	}
	logger.Info("running key store migrations", slog.String("driver", driver), slog.String("source", source))

	m, err := migrate.New(source, connectionString)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer closeMigrate(m, logger)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.Info("key store schema is up to date", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}
