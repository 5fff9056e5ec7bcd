package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/allisson/secretkeeper/internal/breaker"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Options configures an EncryptionManager.
type Options struct {
	// Passphrase seeds the primary key when the store is empty.
	Passphrase *cryptoService.Passphrase
	// PreviousPassphrases seed decrypt-only keys, newest first.
	PreviousPassphrases []*cryptoService.Passphrase

	Expiry          time.Duration
	MaxKeys         int
	AutoRotate      bool
	BackupRetention int
}

type encryptionManager struct {
	cipher  *cryptoService.CipherService
	deriver *cryptoService.KeyDeriver
	store   KeyStore
	breaker CircuitBreaker
	clock   clock.Clock
	logger  *slog.Logger
	opts    Options

	// mu serializes ring mutations; lookups go through the cipher's read lock.
	mu sync.Mutex
}

// NewEncryptionManager creates an EncryptionManager. breaker may be nil.
func NewEncryptionManager(
	cipher *cryptoService.CipherService,
	deriver *cryptoService.KeyDeriver,
	store KeyStore,
	cb CircuitBreaker,
	clk clock.Clock,
	logger *slog.Logger,
	opts Options,
) EncryptionManager {
	return &encryptionManager{
		cipher:  cipher,
		deriver: deriver,
		store:   store,
		breaker: cb,
		clock:   clk,
		logger:  logger,
		opts:    opts,
	}
}

func (m *encryptionManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.store.Retrieve(ctx)
	if err != nil {
		return rotationError("failed to load keys", err)
	}

	if len(keys) == 0 {
		keys, err = m.seedKeys()
		if err != nil {
			return err
		}
		if err := m.store.Store(ctx, keys); err != nil {
			zeroKeys(keys)
			return rotationError("failed to persist keys", err)
		}
		m.logger.Info("encryption keys initialized from configuration", slog.Int("keys", len(keys)))
	}

	previous, err := m.cipher.Replace(cryptoDomain.NewKeyRing(keys...))
	if err != nil {
		zeroKeys(keys)
		return rotationError("failed to install keys", err)
	}
	previous.Close()

	m.logger.Info("encryption keys loaded",
		slog.Int("keys", len(keys)),
		slog.String("algorithm", string(m.cipher.Algorithm())),
	)
	return nil
}

// seedKeys derives the initial ring from the configured passphrases.
func (m *encryptionManager) seedKeys() ([]cryptoDomain.EncryptionKey, error) {
	var passphrases []*cryptoService.Passphrase
	if m.opts.Passphrase != nil {
		passphrases = append(passphrases, m.opts.Passphrase)
	}
	passphrases = append(passphrases, m.opts.PreviousPassphrases...)
	if len(passphrases) == 0 {
		return nil, rotationError("no stored keys", apperrors.Wrap(apperrors.ErrInvalidInput, "ENCRYPTION_KEY is not configured"))
	}

	now := m.clock.Now()
	keys := make([]cryptoDomain.EncryptionKey, 0, len(passphrases))
	for _, p := range passphrases {
		err := p.Use(func(plaintext []byte) error {
			key, err := m.deriver.NewKey(plaintext, now)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			zeroKeys(keys)
			return nil, rotationError("failed to derive key", err)
		}
	}
	return keys, nil
}

func (m *encryptionManager) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.breaker == nil {
		return fn(ctx)
	}
	return m.breaker.Execute(ctx, breaker.Cipher, fn)
}

func (m *encryptionManager) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	var token []byte
	err := m.guard(ctx, func(context.Context) error {
		var err error
		token, err = m.cipher.Encrypt(plaintext)
		return err
	})
	return token, err
}

func (m *encryptionManager) Decrypt(
	ctx context.Context,
	token []byte,
	reencrypt bool,
) (cryptoService.DecryptResult, error) {
	var result cryptoService.DecryptResult
	err := m.guard(ctx, func(context.Context) error {
		var err error
		result, err = m.cipher.Decrypt(token, reencrypt)
		return err
	})
	return result, err
}

func (m *encryptionManager) Rotate(ctx context.Context, passphrases []string) error {
	if len(passphrases) == 0 {
		return invalidRotation("no passphrases given")
	}
	for _, p := range passphrases {
		if p == "" {
			return invalidRotation("empty passphrase")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	added := make([]cryptoDomain.EncryptionKey, 0, len(passphrases))
	for _, p := range passphrases {
		key, err := m.deriver.NewKey([]byte(p), now)
		if err != nil {
			zeroKeys(added)
			return rotationError("failed to derive key", err)
		}
		added = append(added, key)
	}
	working := m.cipher.Keys()
	working.Prepend(added...)
	evicted := working.Prune(now, m.opts.Expiry, m.opts.MaxKeys)
	defer zeroKeys(evicted)

	if err := m.commit(ctx, working); err != nil {
		return err
	}

	m.logger.Info("encryption keys rotated",
		slog.Int("added", len(passphrases)),
		slog.Int("evicted", len(evicted)),
		slog.Int("keys", m.cipher.Len()),
	)

	if _, err := m.backupLocked(ctx); err != nil {
		m.logger.Error("key backup after rotation failed", slog.Any("error", err))
	}
	return nil
}

// commit persists working and installs it. On failure working is zeroed and
// the current ring stays active. Must be called with m.mu held.
func (m *encryptionManager) commit(ctx context.Context, working *cryptoDomain.KeyRing) error {
	if working.Len() == 0 {
		return rotationError("refusing to install keys", cryptoDomain.ErrEmptyKeyRing)
	}
	if err := m.store.Store(ctx, working.Keys()); err != nil {
		working.Close()
		return rotationError("failed to persist keys", err)
	}
	previous, err := m.cipher.Replace(working)
	if err != nil {
		working.Close()
		return rotationError("failed to install keys", err)
	}
	previous.Close()
	return nil
}

func (m *encryptionManager) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.cipher.Keys()
	evicted := working.Prune(m.clock.Now(), m.opts.Expiry, m.opts.MaxKeys)
	defer zeroKeys(evicted)
	if len(evicted) == 0 {
		working.Close()
		return 0, nil
	}
	if working.Len() == 0 {
		return 0, rotationError("every key is expired, rotate before pruning", cryptoDomain.ErrEmptyKeyRing)
	}
	if err := m.commit(ctx, working); err != nil {
		return 0, err
	}

	m.logger.Info("encryption keys pruned", slog.Int("evicted", len(evicted)))
	return len(evicted), nil
}

func (m *encryptionManager) KeysNearingExpiry() []cryptoDomain.KeyInfo {
	var near []cryptoDomain.KeyInfo
	for _, info := range m.Keys() {
		if info.NearingExpiry {
			near = append(near, info)
		}
	}
	return near
}

func (m *encryptionManager) AutoRotate(ctx context.Context) (bool, error) {
	if !m.opts.AutoRotate {
		return false, nil
	}

	near := m.KeysNearingExpiry()
	if len(near) == 0 {
		return false, nil
	}

	passphrases := make([]string, 0, len(near))
	for range near {
		p, err := cryptoService.GeneratePassphrase()
		if err != nil {
			return false, rotationError("failed to generate passphrase", err)
		}
		passphrases = append(passphrases, p)
	}

	m.logger.Info("keys nearing expiry, rotating", slog.Int("nearing_expiry", len(near)))
	if err := m.Rotate(ctx, passphrases); err != nil {
		return false, err
	}
	return true, nil
}

func (m *encryptionManager) Backup(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupLocked(ctx)
}

func (m *encryptionManager) backupLocked(ctx context.Context) (string, error) {
	ring := m.cipher.Keys()
	defer ring.Close()

	id, err := m.store.Backup(ctx, ring.Keys(), m.opts.BackupRetention)
	if err != nil {
		return "", rotationError("failed to back up keys", err)
	}
	m.logger.Info("encryption keys backed up", slog.String("backup", id), slog.Int("keys", ring.Len()))
	return id, nil
}

func (m *encryptionManager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.store.Restore(ctx)
	if err != nil {
		if apperrors.Is(err, cryptoDomain.ErrBackupNotFound) {
			return err
		}
		return rotationError("failed to restore keys", err)
	}
	if err := m.commit(ctx, cryptoDomain.NewKeyRing(keys...)); err != nil {
		return err
	}

	m.logger.Info("encryption keys restored from backup", slog.Int("keys", len(keys)))
	return nil
}

func (m *encryptionManager) HealthCheck(ctx context.Context) bool {
	probe := []byte(cryptoDomain.HealthProbe)

	token, err := m.Encrypt(ctx, probe)
	if err != nil {
		m.logger.Warn("encryption health check failed", slog.Any("error", err))
		return false
	}
	result, err := m.Decrypt(ctx, token, false)
	if err != nil {
		m.logger.Warn("encryption health check failed", slog.Any("error", err))
		return false
	}
	return bytes.Equal(result.Plaintext, probe)
}

func (m *encryptionManager) Keys() []cryptoDomain.KeyInfo {
	ring := m.cipher.Keys()
	defer ring.Close()

	now := m.clock.Now()
	near := make(map[uuid.UUID]bool)
	for _, key := range ring.NearingExpiry(now, m.opts.Expiry, cryptoDomain.NearExpiryRatio) {
		near[key.ID] = true
	}

	infos := make([]cryptoDomain.KeyInfo, 0, ring.Len())
	for i, key := range ring.Keys() {
		infos = append(infos, cryptoDomain.KeyInfo{
			ID:            key.ID,
			CreatedAt:     key.CreatedAt,
			Age:           key.Age(now),
			Primary:       i == 0,
			NearingExpiry: near[key.ID],
		})
	}
	return infos
}

func (m *encryptionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cipher.Close()
	if m.opts.Passphrase != nil {
		m.opts.Passphrase.Destroy()
	}
	for _, p := range m.opts.PreviousPassphrases {
		p.Destroy()
	}
}

func invalidRotation(reason string) error {
	return rotationError("invalid rotation request", apperrors.Wrap(apperrors.ErrInvalidInput, reason))
}

// rotationError marks err as a key rotation failure while keeping its chain.
func rotationError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, cryptoDomain.ErrKeyRotation, err)
}

func zeroKeys(keys []cryptoDomain.EncryptionKey) {
	for i := range keys {
		keys[i].Wipe()
	}
}
