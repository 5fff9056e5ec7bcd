package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/juju/clock"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

const (
	backupPrefix     = "keys_backup_"
	backupSuffix     = ".json"
	backupTimeLayout = "20060102150405"
)

// FileKeyStore keeps the key ring in a JSON file and writes timestamped
// snapshots to a backup directory.
type FileKeyStore struct {
	path      string
	backupDir string
	wrapper   cryptoDomain.KeyWrapper
	clock     clock.Clock

	mu sync.Mutex
}

// NewFileKeyStore creates a FileKeyStore. wrapper may be nil.
func NewFileKeyStore(
	path, backupDir string,
	wrapper cryptoDomain.KeyWrapper,
	clk clock.Clock,
) *FileKeyStore {
	return &FileKeyStore{path: path, backupDir: backupDir, wrapper: wrapper, clock: clk}
}

// Retrieve reads the key file. A missing file yields an empty list.
func (f *FileKeyStore) Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read key file")
	}
	return decodeKeys(ctx, f.wrapper, data)
}

// Store replaces the key file atomically.
func (f *FileKeyStore) Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error {
	data, err := encodeKeys(ctx, f.wrapper, keys)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeFileAtomic(f.path, data); err != nil {
		return apperrors.Wrap(err, "failed to write key file")
	}
	return nil
}

// Backup writes keys to a new snapshot file and removes the oldest snapshots
// beyond retention. A retention of zero keeps every snapshot.
func (f *FileKeyStore) Backup(
	ctx context.Context,
	keys []cryptoDomain.EncryptionKey,
	retention int,
) (string, error) {
	data, err := encodeKeys(ctx, f.wrapper, keys)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.backupDir, 0o700); err != nil {
		return "", apperrors.Wrap(err, "failed to create backup directory")
	}

	now := f.clock.Now().UTC()
	name := backupPrefix + now.Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(f.backupDir, name)
	if _, err := os.Stat(path); err == nil {
		name = fmt.Sprintf("%s%s_%09d%s", backupPrefix, now.Format(backupTimeLayout), now.Nanosecond(), backupSuffix)
		path = filepath.Join(f.backupDir, name)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", apperrors.Wrap(err, "failed to write key backup")
	}

	if retention > 0 {
		backups, err := f.listBackups()
		if err != nil {
			return "", err
		}
		for len(backups) > retention {
			if err := os.Remove(filepath.Join(f.backupDir, backups[0])); err != nil {
				return "", apperrors.Wrap(err, "failed to remove old key backup")
			}
			backups = backups[1:]
		}
	}
	return name, nil
}

// Restore reads the newest snapshot.
func (f *FileKeyStore) Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	backups, err := f.listBackups()
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, cryptoDomain.ErrBackupNotFound
	}

	data, err := os.ReadFile(filepath.Join(f.backupDir, backups[len(backups)-1]))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read key backup")
	}
	return decodeKeys(ctx, f.wrapper, data)
}

// listBackups returns snapshot file names oldest first. Names sort
// chronologically because the timestamp layout is fixed width.
func (f *FileKeyStore) listBackups() ([]string, error) {
	entries, err := os.ReadDir(f.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list key backups")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), backupSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keys-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
