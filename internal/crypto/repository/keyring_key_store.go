package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/zalando/go-keyring"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

const (
	keyringService    = "secretkeeper"
	keyringUser       = "keys"
	keyringIndexUser  = "keys_backup_index"
	keyringBackupUser = "keys_backup_"
)

// KeyringKeyStore stores the key ring in the OS credential store (macOS
// Keychain, Secret Service, Windows Credential Manager). Backups are separate
// entries tracked by an index entry.
type KeyringKeyStore struct {
	service string
	wrapper cryptoDomain.KeyWrapper
	clock   clock.Clock

	mu sync.Mutex
}

// NewKeyringKeyStore creates a KeyringKeyStore. An empty service name uses
// the default "secretkeeper".
func NewKeyringKeyStore(service string, wrapper cryptoDomain.KeyWrapper, clk clock.Clock) *KeyringKeyStore {
	if service == "" {
		service = keyringService
	}
	return &KeyringKeyStore{service: service, wrapper: wrapper, clock: clk}
}

func (k *KeyringKeyStore) Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := keyring.Get(k.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read keyring entry")
	}
	return decodeKeys(ctx, k.wrapper, []byte(data))
}

func (k *KeyringKeyStore) Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error {
	data, err := encodeKeys(ctx, k.wrapper, keys)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(k.service, keyringUser, string(data)); err != nil {
		return apperrors.Wrap(err, "failed to write keyring entry")
	}
	return nil
}

func (k *KeyringKeyStore) Backup(
	ctx context.Context,
	keys []cryptoDomain.EncryptionKey,
	retention int,
) (string, error) {
	data, err := encodeKeys(ctx, k.wrapper, keys)
	if err != nil {
		return "", err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	index, err := k.readIndex()
	if err != nil {
		return "", err
	}

	now := k.clock.Now().UTC()
	user := keyringBackupUser + now.Format(backupTimeLayout)
	if len(index) > 0 && index[len(index)-1] >= user {
		user = fmt.Sprintf("%s_%09d", user, now.Nanosecond())
	}
	if err := keyring.Set(k.service, user, string(data)); err != nil {
		return "", apperrors.Wrap(err, "failed to write keyring backup")
	}
	index = append(index, user)

	if retention > 0 {
		for len(index) > retention {
			if err := keyring.Delete(k.service, index[0]); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return "", apperrors.Wrap(err, "failed to remove old keyring backup")
			}
			index = index[1:]
		}
	}

	if err := k.writeIndex(index); err != nil {
		return "", err
	}
	return user, nil
}

func (k *KeyringKeyStore) Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	index, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	if len(index) == 0 {
		return nil, cryptoDomain.ErrBackupNotFound
	}

	data, err := keyring.Get(k.service, index[len(index)-1])
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, cryptoDomain.ErrBackupNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read keyring backup")
	}
	return decodeKeys(ctx, k.wrapper, []byte(data))
}

// readIndex returns backup entry names oldest first.
func (k *KeyringKeyStore) readIndex() ([]string, error) {
	data, err := keyring.Get(k.service, keyringIndexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read keyring backup index")
	}
	var index []string
	if err := json.Unmarshal([]byte(data), &index); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode keyring backup index")
	}
	return index, nil
}

func (k *KeyringKeyStore) writeIndex(index []string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.service, keyringIndexUser, string(data)); err != nil {
		return apperrors.Wrap(err, "failed to write keyring backup index")
	}
	return nil
}
