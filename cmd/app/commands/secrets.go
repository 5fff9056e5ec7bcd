package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// SecretGetter retrieves one secret.
type SecretGetter interface {
	Get(ctx context.Context, name string) (*secretsDomain.Secret, error)
}

// SecretRefresher refreshes a set of secrets from the secret store.
type SecretRefresher interface {
	RefreshAll(ctx context.Context, names []string) (map[string]*secretsDomain.Secret, error)
}

// RunGetSecret prints the secret stored under name. The value is printed
// verbatim in text mode so it can be piped into other tools.
func RunGetSecret(
	ctx context.Context,
	getter SecretGetter,
	logger *slog.Logger,
	writer io.Writer,
	name string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("secret name is required")
	}

	secret, err := getter.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	logger.Debug("secret retrieved", slog.String("name", name), slog.String("origin", string(secret.Origin)))

	if format == FormatJSON {
		return writeJSON(writer, map[string]any{
			"name":       secret.Name,
			"value":      secret.String(),
			"origin":     secret.Origin,
			"fetched_at": secret.FetchedAt.UTC().Format(time.RFC3339),
		})
	}
	_, err = fmt.Fprintln(writer, secret.String())
	return err
}

// RunRefreshSecrets refreshes names, or every configured name when names is
// empty. It fails when any secret could not be refreshed.
func RunRefreshSecrets(
	ctx context.Context,
	refresher SecretRefresher,
	logger *slog.Logger,
	writer io.Writer,
	names []string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	results, err := refresher.RefreshAll(ctx, names)
	if err != nil {
		return fmt.Errorf("failed to refresh secrets: %w", err)
	}

	refreshed, failed := []string{}, []string{}
	for name, secret := range results {
		if secret == nil {
			failed = append(failed, name)
			continue
		}
		refreshed = append(refreshed, name)
	}
	slices.Sort(refreshed)
	slices.Sort(failed)

	logger.Info("secrets refreshed", slog.Int("refreshed", len(refreshed)), slog.Int("failed", len(failed)))

	if format == FormatJSON {
		if err := writeJSON(writer, map[string]any{"refreshed": refreshed, "failed": failed}); err != nil {
			return err
		}
	} else {
		for _, name := range refreshed {
			_, _ = fmt.Fprintf(writer, "refreshed %s\n", name)
		}
		for _, name := range failed {
			_, _ = fmt.Fprintf(writer, "failed    %s\n", name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to refresh %d secret(s)", len(failed))
	}
	return nil
}
