// Package usecase manages the lifecycle of the encryption key ring: loading
// it from a KeyStore, rotating, pruning, backing up and restoring it, and
// sealing values through the CipherService.
package usecase

import (
	"context"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
)

// KeyStore persists the key ring.
//
// Available implementations:
//   - FileKeyStore: keys.json plus key_backups/keys_backup_<ts>.json
//   - PostgreSQLKeyStore, MySQLKeyStore: encryption_keys and encryption_key_backups tables
//   - KeyringKeyStore: OS credential store
type KeyStore interface {
	// Retrieve returns the stored keys newest first, or an empty slice when nothing is stored.
	Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error)

	// Store replaces the stored keys.
	Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error

	// Backup writes a snapshot of keys and keeps at most retention snapshots
	// (zero keeps all). It returns the snapshot identifier.
	Backup(ctx context.Context, keys []cryptoDomain.EncryptionKey, retention int) (string, error)

	// Restore returns the newest snapshot, or ErrBackupNotFound.
	Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error)
}

// CircuitBreaker guards calls to a named dependency.
type CircuitBreaker interface {
	Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// EncryptionManager owns the key ring used to seal cached secrets.
type EncryptionManager interface {
	// Initialize loads the ring from the KeyStore, deriving and persisting it
	// from the configured passphrases when the store is empty.
	Initialize(ctx context.Context) error

	// Encrypt seals plaintext with the primary key.
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)

	// Decrypt opens a token with any key of the ring. See CipherService.Decrypt.
	Decrypt(ctx context.Context, token []byte, reencrypt bool) (cryptoService.DecryptResult, error)

	// Rotate derives one key per passphrase, prepends them, prunes, persists
	// and backs up the ring. On failure the previous ring stays active.
	Rotate(ctx context.Context, passphrases []string) error

	// Prune removes expired keys and keys beyond the limit, returning how many were removed.
	Prune(ctx context.Context) (int, error)

	// KeysNearingExpiry lists keys older than 80% of the expiry period.
	KeysNearingExpiry() []cryptoDomain.KeyInfo

	// AutoRotate rotates when auto rotation is enabled and any key of the ring
	// is nearing expiry. It reports whether a rotation happened.
	AutoRotate(ctx context.Context) (bool, error)

	// Backup snapshots the current ring.
	Backup(ctx context.Context) (string, error)

	// Restore replaces the ring with the newest backup and persists it.
	Restore(ctx context.Context) error

	// HealthCheck seals and opens a probe value.
	HealthCheck(ctx context.Context) bool

	// Keys lists the current ring, newest first.
	Keys() []cryptoDomain.KeyInfo

	// Close zeroes key material.
	Close()
}
