package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/allisson/secretkeeper/internal/app"
	"github.com/allisson/secretkeeper/internal/config"
)

const shutdownTimeout = 30 * time.Second

// RunServer starts the secrets manager (rotation loop and alert flusher) and
// the operations server, then blocks until SIGINT/SIGTERM or a server error.
func RunServer(ctx context.Context, version string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	gin.SetMode(cfg.GetGinMode())

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting secretkeeper",
		slog.String("version", version),
		slog.String("provider", cfg.SecretsProvider),
		slog.Bool("encryption", container.EncryptionEnabled()),
	)
	defer closeContainer(container, logger)

	secretsManager, err := container.SecretsManager()
	if err != nil {
		return fmt.Errorf("failed to initialize secrets manager: %w", err)
	}

	server, err := container.HTTPServer()
	if err != nil {
		return fmt.Errorf("failed to initialize operations server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := secretsManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start secrets manager: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("operations server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
		logger.Error("server error, initiating shutdown", slog.Any("error", runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("operations server shutdown: %w", err))
	}
	if err := secretsManager.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("secrets manager shutdown: %w", err))
	}
	return runErr
}
