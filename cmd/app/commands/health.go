package commands

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
	"github.com/allisson/secretkeeper/internal/health"
)

// ErrUnhealthy is returned by RunHealth when a component fails.
var ErrUnhealthy = apperrors.Wrap(apperrors.ErrUnavailable, "secrets manager is unhealthy")

// HealthReporter runs the health probes once.
type HealthReporter interface {
	Health(ctx context.Context) (health.Report, error)
}

// RunHealth prints every component status and returns ErrUnhealthy when any
// probe failed.
func RunHealth(ctx context.Context, reporter HealthReporter, writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	report, err := reporter.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to run health check: %w", err)
	}

	if format == FormatJSON {
		if err := writeJSON(writer, report); err != nil {
			return err
		}
	} else {
		for _, name := range slices.Sorted(maps.Keys(report.Components)) {
			_, _ = fmt.Fprintf(writer, "%-20s %s\n", name, report.Components[name])
		}
		status := "healthy"
		if !report.Healthy {
			status = "unhealthy"
		}
		_, _ = fmt.Fprintf(writer, "status: %s\n", status)
	}

	if !report.Healthy {
		return ErrUnhealthy
	}
	return nil
}
