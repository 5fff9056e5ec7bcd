// Package main is the secretkeeper command line entry point.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:     "secretkeeper",
		Usage:    "Cached, encrypted access to remote secret stores",
		Version:  version,
		Commands: getCommands(version),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error",
			slog.Any("error", err),
			slog.String("kind", apperrors.Kind(err)),
		)
		os.Exit(apperrors.ExitCode(err))
	}
}
