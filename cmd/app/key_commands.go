package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/secretkeeper/cmd/app/commands"
	"github.com/allisson/secretkeeper/internal/app"
)

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "rotate-key",
			Usage: "Add new encryption keys and make the newest primary",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "passphrase",
					Aliases: []string{"p"},
					Usage:   "Passphrase for the new key (default: randomly generated)",
				},
				&cli.IntFlag{
					Name:    "count",
					Aliases: []string{"c"},
					Value:   1,
					Usage:   "Number of random keys to add when no passphrase is given",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunRotateKey(
						ctx,
						secretsManager,
						container.Logger(),
						commands.DefaultIO().Writer,
						cmd.String("passphrase"),
						int(cmd.Int("count")),
					)
				})
			},
		},
		{
			Name:  "list-keys",
			Usage: "List encryption key ids, ages and flags",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunListKeys(secretsManager, commands.DefaultIO().Writer, cmd.String("format"))
				})
			},
		},
		{
			Name:  "backup-keys",
			Usage: "Snapshot the current encryption keys in the key store",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					encryption, err := container.EncryptionManager()
					if err != nil {
						return err
					}
					return commands.RunBackupKeys(ctx, encryption, commands.DefaultIO().Writer)
				})
			},
		},
		{
			Name:  "restore-keys",
			Usage: "Replace the encryption keys with the latest backup",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					encryption, err := container.EncryptionManager()
					if err != nil {
						return err
					}
					return commands.RunRestoreKeys(ctx, encryption, container.Logger(), commands.DefaultIO().Writer)
				})
			},
		},
		{
			Name:  "encrypt-value",
			Usage: "Seal a value so it can be stored encrypted in the secret store",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "value",
					Aliases: []string{"v"},
					Usage:   "Plaintext to seal (default: first line of stdin)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withContainer(ctx, func(container *app.Container) error {
					secretsManager, err := container.SecretsManager()
					if err != nil {
						return err
					}
					return commands.RunEncryptValue(ctx, secretsManager, commands.DefaultIO(), cmd.String("value"))
				})
			},
		},
	}
}
