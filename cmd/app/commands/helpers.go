// Package commands holds the CLI command implementations. Each Run function
// receives its dependencies so it can be exercised without a container.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/allisson/secretkeeper/internal/app"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const containerShutdownTimeout = 10 * time.Second

// IOTuple is the stdin/stdout pair a command reads values from and prints to.
type IOTuple struct {
	Reader io.Reader
	Writer io.Writer
}

// DefaultIO returns the process stdin and stdout.
func DefaultIO() IOTuple {
	return IOTuple{
		Reader: os.Stdin,
		Writer: os.Stdout,
	}
}

// closeContainer stops the manager, caches and key stores the container
// built, giving them containerShutdownTimeout to drain.
func closeContainer(container *app.Container, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), containerShutdownTimeout)
	defer cancel()
	if err := container.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}

func closeMigrate(m *migrate.Migrate, logger *slog.Logger) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		logger.Error("failed to close key store migrations",
			slog.Any("source_error", sourceErr),
			slog.Any("database_error", dbErr),
		)
	}
}

func validateFormat(format string) error {
	switch format {
	case FormatText, FormatJSON:
		return nil
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "invalid format: %s (valid options: text, json)", format)
	}
}

// writeJSON prints v indented, followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}
