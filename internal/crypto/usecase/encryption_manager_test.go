package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/secretkeeper/internal/breaker"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	cryptoUsecaseMocks "github.com/allisson/secretkeeper/internal/crypto/usecase/mocks"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

const day = 24 * time.Hour

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func storedKeys(t *testing.T, ages ...time.Duration) []cryptoDomain.EncryptionKey {
	t.Helper()
	keys := make([]cryptoDomain.EncryptionKey, len(ages))
	for i, age := range ages {
		key := make([]byte, cryptoDomain.KeySize)
		_, err := rand.Read(key)
		require.NoError(t, err)
		keys[i] = cryptoDomain.EncryptionKey{
			ID:        uuid.Must(uuid.NewV7()),
			Key:       key,
			Salt:      []byte("0123456789abcdef"),
			CreatedAt: testNow.Add(-age),
		}
	}
	return keys
}

func defaultOptions() Options {
	return Options{
		Passphrase:      cryptoService.NewPassphrase("primary-passphrase"),
		Expiry:          90 * day,
		MaxKeys:         5,
		AutoRotate:      true,
		BackupRetention: 5,
	}
}

func newTestManager(
	t *testing.T,
	store KeyStore,
	cb CircuitBreaker,
	opts Options,
) (EncryptionManager, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(testNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cipher := cryptoService.NewCipherService(cryptoService.NewAEADManager(), cryptoDomain.AESGCM)
	m := NewEncryptionManager(cipher, cryptoService.NewKeyDeriver(), store, cb, clk, logger, opts)
	t.Cleanup(m.Close)
	return m, clk
}

// initWithKeys initializes a manager whose store already holds keys of the given ages.
func initWithKeys(
	t *testing.T,
	store *cryptoUsecaseMocks.MockKeyStore,
	opts Options,
	ages ...time.Duration,
) (EncryptionManager, []cryptoDomain.EncryptionKey) {
	t.Helper()
	keys := storedKeys(t, ages...)
	ids := make([]cryptoDomain.EncryptionKey, len(keys))
	for i := range keys {
		ids[i] = keys[i].Clone()
	}
	store.On("Retrieve", mock.Anything).Return(keys, nil).Once()

	m, _ := newTestManager(t, store, nil, opts)
	require.NoError(t, m.Initialize(context.Background()))
	return m, ids
}

func TestEncryptionManager_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_DerivesAndPersistsFromPassphrases", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		store.On("Retrieve", ctx).Return([]cryptoDomain.EncryptionKey{}, nil).Once()
		store.On("Store", ctx, mock.MatchedBy(func(keys []cryptoDomain.EncryptionKey) bool {
			return len(keys) == 3
		})).Return(nil).Once()

		opts := defaultOptions()
		opts.PreviousPassphrases = cryptoService.NewPassphrases("old-one", "old-two")
		m, _ := newTestManager(t, store, nil, opts)

		require.NoError(t, m.Initialize(ctx))

		infos := m.Keys()
		require.Len(t, infos, 3)
		assert.True(t, infos[0].Primary)
		assert.False(t, infos[1].Primary)
		assert.Equal(t, testNow, infos[0].CreatedAt)

		token, err := m.Encrypt(ctx, []byte("abc123"))
		require.NoError(t, err)
		result, err := m.Decrypt(ctx, token, false)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc123"), result.Plaintext)
		store.AssertExpectations(t)
	})

	t.Run("Success_LoadsStoredKeys", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day, 2*day)

		infos := m.Keys()
		require.Len(t, infos, 2)
		assert.Equal(t, keys[0].ID, infos[0].ID)
		assert.Equal(t, keys[1].ID, infos[1].ID)
		assert.Equal(t, 2*day, infos[1].Age)
		store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	})

	t.Run("Error_NoKeysAndNoPassphrase", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		store.On("Retrieve", ctx).Return(nil, nil).Once()

		opts := defaultOptions()
		opts.Passphrase = nil
		m, _ := newTestManager(t, store, nil, opts)

		err := m.Initialize(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("Error_RetrieveFails", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		storeErr := errors.New("disk on fire")
		store.On("Retrieve", ctx).Return(nil, storeErr).Once()

		m, _ := newTestManager(t, store, nil, defaultOptions())

		err := m.Initialize(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("Error_PersistFails", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		store.On("Retrieve", ctx).Return(nil, nil).Once()
		store.On("Store", ctx, mock.Anything).Return(errors.New("read-only")).Once()

		m, _ := newTestManager(t, store, nil, defaultOptions())

		err := m.Initialize(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)
		assert.Empty(t, m.Keys())
	})
}

func TestEncryptionManager_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_PrependsKeysAndBacksUp", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day)

		oldToken, err := m.Encrypt(ctx, []byte("sealed before rotation"))
		require.NoError(t, err)

		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 3
		})).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("backup-1", nil).Once()

		require.NoError(t, m.Rotate(ctx, []string{"first-new", "second-new"}))

		infos := m.Keys()
		require.Len(t, infos, 3)
		assert.Equal(t, keys[0].ID, infos[2].ID)
		assert.True(t, infos[0].Primary)

		result, err := m.Decrypt(ctx, oldToken, true)
		require.NoError(t, err)
		assert.Equal(t, []byte("sealed before rotation"), result.Plaintext)
		assert.Equal(t, 2, result.KeyIndex)
		require.NotNil(t, result.Reencrypted)

		fresh, err := m.Decrypt(ctx, result.Reencrypted, true)
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.KeyIndex)
		store.AssertExpectations(t)
	})

	t.Run("Success_FirstPassphraseBecomesPrimary", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), day)

		var stored []cryptoDomain.EncryptionKey
		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 3
		})).Run(func(args mock.Arguments) {
			for _, key := range args.Get(1).([]cryptoDomain.EncryptionKey) {
				stored = append(stored, key.Clone())
			}
		}).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("backup-1", nil).Once()

		require.NoError(t, m.Rotate(ctx, []string{"first-new", "second-new"}))

		require.Len(t, stored, 3)
		deriver := cryptoService.NewKeyDeriver()
		assert.Equal(t, deriver.Derive([]byte("first-new"), stored[0].Salt), stored[0].Key)
		assert.Equal(t, deriver.Derive([]byte("second-new"), stored[1].Salt), stored[1].Key)
		assert.Equal(t, stored[0].ID, m.Keys()[0].ID)
	})

	t.Run("Success_PrunesBeyondMaxKeys", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		opts := defaultOptions()
		opts.MaxKeys = 2
		m, _ := initWithKeys(t, store, opts, day, 2*day)

		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 2
		})).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("backup-1", nil).Once()

		require.NoError(t, m.Rotate(ctx, []string{"only-new"}))

		infos := m.Keys()
		require.Len(t, infos, 2)
		assert.Equal(t, testNow, infos[0].CreatedAt)
		assert.Equal(t, day, infos[1].Age)
	})

	t.Run("Success_BackupFailureIsNotFatal", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), day)

		store.On("Store", ctx, mock.Anything).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("", errors.New("backup dir missing")).Once()

		require.NoError(t, m.Rotate(ctx, []string{"new-passphrase"}))
		assert.Len(t, m.Keys(), 2)
	})

	t.Run("Error_StoreFailureKeepsPreviousRing", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day)

		token, err := m.Encrypt(ctx, []byte("value"))
		require.NoError(t, err)

		store.On("Store", ctx, mock.Anything).Return(errors.New("write failed")).Once()

		err = m.Rotate(ctx, []string{"new-passphrase"})
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)

		infos := m.Keys()
		require.Len(t, infos, 1)
		assert.Equal(t, keys[0].ID, infos[0].ID)

		result, err := m.Decrypt(ctx, token, false)
		require.NoError(t, err)
		assert.Equal(t, 0, result.KeyIndex)
		store.AssertNotCalled(t, "Backup", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_InvalidPassphrases", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), day)

		for _, passphrases := range [][]string{nil, {"ok", ""}} {
			err := m.Rotate(ctx, passphrases)
			assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		}
		assert.Len(t, m.Keys(), 1)
	})
}

func TestEncryptionManager_Prune(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_RemovesExpiredKeys", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day, 100*day, 120*day)

		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 1
		})).Return(nil).Once()

		n, err := m.Prune(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		infos := m.Keys()
		require.Len(t, infos, 1)
		assert.Equal(t, keys[0].ID, infos[0].ID)
	})

	t.Run("Success_NothingToPrune", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), day)

		n, err := m.Prune(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	})

	t.Run("Error_RefusesToEmptyRing", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), 91*day)

		_, err := m.Prune(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyRotation)
		assert.ErrorIs(t, err, cryptoDomain.ErrEmptyKeyRing)
		assert.Len(t, m.Keys(), 1)
		assert.True(t, m.HealthCheck(ctx))
	})
}

func TestEncryptionManager_AutoRotate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_RotatesWhenPrimaryNearsExpiry", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), 73*day, 80*day)

		near := m.KeysNearingExpiry()
		require.Len(t, near, 2)

		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 4
		})).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("backup-1", nil).Once()

		rotated, err := m.AutoRotate(ctx)
		require.NoError(t, err)
		assert.True(t, rotated)

		infos := m.Keys()
		require.Len(t, infos, 4)
		assert.False(t, infos[0].NearingExpiry)
		store.AssertExpectations(t)
	})

	t.Run("Success_RotatesWhenOlderKeyNearsExpiry", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day, 80*day)

		near := m.KeysNearingExpiry()
		require.Len(t, near, 1)
		assert.False(t, near[0].Primary)

		store.On("Store", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 3
		})).Return(nil).Once()
		store.On("Backup", ctx, mock.Anything, 5).Return("backup-1", nil).Once()

		rotated, err := m.AutoRotate(ctx)
		require.NoError(t, err)
		assert.True(t, rotated)

		infos := m.Keys()
		require.Len(t, infos, 3)
		assert.Equal(t, keys[0].ID, infos[1].ID)
		assert.Equal(t, keys[1].ID, infos[2].ID)
		store.AssertExpectations(t)
	})

	t.Run("Success_DisabledNeverRotates", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		opts := defaultOptions()
		opts.AutoRotate = false
		m, _ := initWithKeys(t, store, opts, 85*day)

		rotated, err := m.AutoRotate(ctx)
		require.NoError(t, err)
		assert.False(t, rotated)
		store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	})

	t.Run("Success_KeysAgeWithClock", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		store.On("Retrieve", ctx).Return(storedKeys(t, 0), nil).Once()
		m, clk := newTestManager(t, store, nil, defaultOptions())
		require.NoError(t, m.Initialize(ctx))

		assert.Empty(t, m.KeysNearingExpiry())
		clk.Advance(73 * day)
		assert.Len(t, m.KeysNearingExpiry(), 1)
	})
}

func TestEncryptionManager_BackupRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_BackupReturnsIdentifier", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day)

		store.On("Backup", ctx, mock.MatchedBy(func(k []cryptoDomain.EncryptionKey) bool {
			return len(k) == 1 && k[0].ID == keys[0].ID
		}), 5).Return("keys_backup_20260601120000.json", nil).Once()

		id, err := m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, "keys_backup_20260601120000.json", id)
	})

	t.Run("Success_RestoreReplacesAndPersists", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, _ := initWithKeys(t, store, defaultOptions(), day)

		backup := storedKeys(t, 2*day, 3*day)
		backupID := backup[0].ID
		store.On("Restore", ctx).Return(backup, nil).Once()
		store.On("Store", ctx, mock.Anything).Return(nil).Once()

		require.NoError(t, m.Restore(ctx))

		infos := m.Keys()
		require.Len(t, infos, 2)
		assert.Equal(t, backupID, infos[0].ID)
	})

	t.Run("Error_NoBackup", func(t *testing.T) {
		store := &cryptoUsecaseMocks.MockKeyStore{}
		m, keys := initWithKeys(t, store, defaultOptions(), day)

		store.On("Restore", ctx).Return(nil, cryptoDomain.ErrBackupNotFound).Once()

		err := m.Restore(ctx)
		assert.ErrorIs(t, err, cryptoDomain.ErrBackupNotFound)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		assert.Equal(t, keys[0].ID, m.Keys()[0].ID)
	})
}

func TestEncryptionManager_HealthCheck(t *testing.T) {
	ctx := context.Background()
	store := &cryptoUsecaseMocks.MockKeyStore{}
	m, _ := initWithKeys(t, store, defaultOptions(), day)

	assert.True(t, m.HealthCheck(ctx))

	m.Close()
	assert.False(t, m.HealthCheck(ctx))
	assert.Empty(t, m.Keys())
}

func TestEncryptionManager_CipherBreaker(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(testNow)
	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}, clk)

	store := &cryptoUsecaseMocks.MockKeyStore{}
	store.On("Retrieve", ctx).Return(storedKeys(t, day), nil).Once()
	m, _ := newTestManager(t, store, registry, defaultOptions())
	require.NoError(t, m.Initialize(ctx))

	for range 2 {
		_, err := m.Decrypt(ctx, []byte("skv1.not-a-token"), false)
		assert.ErrorIs(t, err, cryptoDomain.ErrDecryption)
	}
	assert.Equal(t, breaker.Open, registry.State(breaker.Cipher))

	_, err := m.Encrypt(ctx, []byte("value"))
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.False(t, m.HealthCheck(ctx))

	clk.Advance(time.Minute)
	assert.True(t, m.HealthCheck(ctx))
}
