package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/allisson/secretkeeper/cmd/app/commands"
	"github.com/allisson/secretkeeper/internal/app"
	"github.com/allisson/secretkeeper/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:    "serve",
			Aliases: []string{"server"},
			Usage:   "Run the rotation loop and the operations server (health, metrics)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Create the key store tables for the postgres or mysql key store driver",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				driver := cfg.DBDriver()
				if driver == "" {
					return fmt.Errorf("KEY_STORE_DRIVER=%s does not use a database", cfg.KeyStoreDriver)
				}
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(container.Logger(), driver, cfg.DBConnectionString)
			},
		},
		{
			Name:  "health",
			Usage: "Probe every dependency once and exit non-zero when one fails",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunHealth(ctx, secretsManager, commands.DefaultIO().Writer, cmd.String("format"))
				})
			},
		},
	}
}
