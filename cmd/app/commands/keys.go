package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
)

// KeyRotator rotates the encryption keys.
type KeyRotator interface {
	RotateKey(ctx context.Context, passphrases []string) error
}

// KeyLister lists the key ring.
type KeyLister interface {
	Keys() ([]cryptoDomain.KeyInfo, error)
}

// KeyBackuper snapshots the key ring.
type KeyBackuper interface {
	Backup(ctx context.Context) (string, error)
}

// KeyRestorer replaces the key ring with the newest backup.
type KeyRestorer interface {
	Restore(ctx context.Context) error
}

// ValueEncrypter seals a value with the primary key.
type ValueEncrypter interface {
	Encrypt(ctx context.Context, value []byte) (string, error)
}

// RunRotateKey adds count new keys derived from random passphrases, or a
// single key derived from passphrase when it is set. Generated passphrases
// are never printed.
func RunRotateKey(
	ctx context.Context,
	rotator KeyRotator,
	logger *slog.Logger,
	writer io.Writer,
	passphrase string,
	count int,
) error {
	var passphrases []string
	if passphrase != "" {
		passphrases = []string{passphrase}
	} else {
		if count < 1 {
			return fmt.Errorf("count must be at least 1, got: %d", count)
		}
		for range count {
			generated, err := cryptoService.GeneratePassphrase()
			if err != nil {
				return fmt.Errorf("failed to generate passphrase: %w", err)
			}
			passphrases = append(passphrases, generated)
		}
	}

	if err := rotator.RotateKey(ctx, passphrases); err != nil {
		return fmt.Errorf("failed to rotate keys: %w", err)
	}

	logger.Info("encryption keys rotated", slog.Int("added", len(passphrases)))
	_, err := fmt.Fprintf(writer, "Rotated encryption keys: %d new key(s) added\n", len(passphrases))
	return err
}

// RunListKeys prints key ids, ages and flags. Key material is never shown.
func RunListKeys(lister KeyLister, writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	keys, err := lister.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if format == FormatJSON {
		out := make([]map[string]any, 0, len(keys))
		for _, key := range keys {
			out = append(out, map[string]any{
				"id":             key.ID.String(),
				"created_at":     key.CreatedAt.UTC().Format(time.RFC3339),
				"age_days":       int(key.Age.Hours() / 24),
				"primary":        key.Primary,
				"nearing_expiry": key.NearingExpiry,
			})
		}
		return writeJSON(writer, out)
	}

	for _, key := range keys {
		var flags []string
		if key.Primary {
			flags = append(flags, "primary")
		}
		if key.NearingExpiry {
			flags = append(flags, "nearing-expiry")
		}
		_, _ = fmt.Fprintf(writer, "%s  created=%s  age=%dd  %s\n",
			key.ID,
			key.CreatedAt.UTC().Format(time.RFC3339),
			int(key.Age.Hours()/24),
			strings.Join(flags, ","),
		)
	}
	return nil
}

// RunBackupKeys writes a snapshot of the current key ring.
func RunBackupKeys(ctx context.Context, backuper KeyBackuper, writer io.Writer) error {
	id, err := backuper.Backup(ctx)
	if err != nil {
		return fmt.Errorf("failed to back up keys: %w", err)
	}
	_, err = fmt.Fprintf(writer, "Key backup created: %s\n", id)
	return err
}

// RunRestoreKeys replaces the key ring with the newest backup.
func RunRestoreKeys(ctx context.Context, restorer KeyRestorer, logger *slog.Logger, writer io.Writer) error {
	if err := restorer.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore keys: %w", err)
	}
	logger.Warn("encryption keys restored from backup")
	_, err := fmt.Fprintln(writer, "Encryption keys restored from the latest backup")
	return err
}

// RunEncryptValue prints a sealed token for value. When value is empty the
// first line of stdio.Reader is used, so the plaintext stays out of shell history.
func RunEncryptValue(ctx context.Context, encrypter ValueEncrypter, stdio IOTuple, value string) error {
	if value == "" {
		line, err := bufio.NewReader(stdio.Reader).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read value: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return fmt.Errorf("value is required")
	}

	token, err := encrypter.Encrypt(ctx, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt value: %w", err)
	}
	_, err = fmt.Fprintln(stdio.Writer, token)
	return err
}
