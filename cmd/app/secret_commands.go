package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/secretkeeper/cmd/app/commands"
	"github.com/allisson/secretkeeper/internal/app"
)

func getSecretCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "get",
			Usage: "Retrieve one secret through the cache tiers",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "name",
					Aliases:  []string{"n"},
					Required: true,
					Usage:    "Secret name",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunGetSecret(
						ctx,
						secretsManager,
						container.Logger(),
						commands.DefaultIO().Writer,
						cmd.String("name"),
						cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "refresh",
			Usage: "Fetch secrets from the secret store, bypassing the caches",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:    "name",
					Aliases: []string{"n"},
					Usage:   "Secret name; repeat for several (default: SECRET_NAMES)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunRefreshSecrets(
						ctx,
						secretsManager,
						container.Logger(),
						commands.DefaultIO().Writer,
						cmd.StringSlice("name"),
						cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "rotate",
			Usage: "Run one rotation pass: refresh SECRET_NAMES and rotate keys nearing expiry",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					rotator, err := container.Rotator()
					if err != nil {
						return err
					}
					return commands.RunRotateOnce(ctx, rotator, commands.DefaultIO().Writer, cmd.String("format"))
				})
			},
		},
	}
}
