package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/allisson/secretkeeper/internal/rotation"
)

// RotationRunner performs a single rotation pass.
type RotationRunner interface {
	RunOnce(ctx context.Context) rotation.Result
}

// RunRotateOnce runs one rotation pass outside the serve loop, for cron jobs
// that prefer an external scheduler.
func RunRotateOnce(ctx context.Context, runner RotationRunner, writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	result := runner.RunOnce(ctx)

	if format == FormatJSON {
		out := map[string]any{
			"refreshed":   nonNil(result.Refreshed),
			"failed":      nonNil(result.Failed),
			"key_rotated": result.KeyRotated,
			"purged":      result.Purged,
		}
		if result.KeyErr != nil {
			out["key_error"] = result.KeyErr.Error()
		}
		if err := writeJSON(writer, out); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(writer, "refreshed: %s\n", strings.Join(result.Refreshed, ", "))
		_, _ = fmt.Fprintf(writer, "failed: %s\n", strings.Join(result.Failed, ", "))
		_, _ = fmt.Fprintf(writer, "key rotated: %t\n", result.KeyRotated)
		_, _ = fmt.Fprintf(writer, "purged cache entries: %d\n", result.Purged)
	}

	switch {
	case len(result.Failed) > 0:
		return fmt.Errorf("rotation failed for %d secret(s)", len(result.Failed))
	case result.KeyErr != nil:
		return fmt.Errorf("key rotation failed: %w", result.KeyErr)
	}
	return nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
