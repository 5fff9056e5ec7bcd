package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/secretkeeper/cmd/app/commands"
	"github.com/allisson/secretkeeper/internal/app"
	"github.com/allisson/secretkeeper/internal/config"
)

func getCommands(version string) []*cli.Command {
	cmds := []*cli.Command{}
	cmds = append(cmds, getSystemCommands(version)...)
	cmds = append(cmds, getSecretCommands()...)
	cmds = append(cmds, getKeyCommands()...)
	return cmds
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   commands.FormatText,
		Usage:   "Output format: 'text' or 'json'",
	}
}

// withContainer loads and validates the configuration, builds a container
// and shuts it down once fn returns.
func withContainer(ctx context.Context, fn func(container *app.Container) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	container := app.NewContainer(cfg)
	defer func() { _ = container.Shutdown(ctx) }()

	return fn(container)
}
