// Package mocks provides mock implementations of the crypto use case interfaces for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
)

// MockKeyStore is a mock implementation of KeyStore.
type MockKeyStore struct {
	mock.Mock
}

// Retrieve mocks the Retrieve method of KeyStore.
func (m *MockKeyStore) Retrieve(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cryptoDomain.EncryptionKey), args.Error(1)
}

// Store mocks the Store method of KeyStore.
func (m *MockKeyStore) Store(ctx context.Context, keys []cryptoDomain.EncryptionKey) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

// Backup mocks the Backup method of KeyStore.
func (m *MockKeyStore) Backup(
	ctx context.Context,
	keys []cryptoDomain.EncryptionKey,
	retention int,
) (string, error) {
	args := m.Called(ctx, keys, retention)
	return args.String(0), args.Error(1)
}

// Restore mocks the Restore method of KeyStore.
func (m *MockKeyStore) Restore(ctx context.Context) ([]cryptoDomain.EncryptionKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cryptoDomain.EncryptionKey), args.Error(1)
}

// MockEncryptionManager is a mock implementation of EncryptionManager.
type MockEncryptionManager struct {
	mock.Mock
}

// Initialize mocks the Initialize method of EncryptionManager.
func (m *MockEncryptionManager) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Encrypt mocks the Encrypt method of EncryptionManager.
func (m *MockEncryptionManager) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	args := m.Called(ctx, plaintext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Decrypt mocks the Decrypt method of EncryptionManager.
func (m *MockEncryptionManager) Decrypt(
	ctx context.Context,
	token []byte,
	reencrypt bool,
) (cryptoService.DecryptResult, error) {
	args := m.Called(ctx, token, reencrypt)
	return args.Get(0).(cryptoService.DecryptResult), args.Error(1)
}

// Rotate mocks the Rotate method of EncryptionManager.
func (m *MockEncryptionManager) Rotate(ctx context.Context, passphrases []string) error {
	args := m.Called(ctx, passphrases)
	return args.Error(0)
}

// Prune mocks the Prune method of EncryptionManager.
func (m *MockEncryptionManager) Prune(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// KeysNearingExpiry mocks the KeysNearingExpiry method of EncryptionManager.
func (m *MockEncryptionManager) KeysNearingExpiry() []cryptoDomain.KeyInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]cryptoDomain.KeyInfo)
}

// AutoRotate mocks the AutoRotate method of EncryptionManager.
func (m *MockEncryptionManager) AutoRotate(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// Backup mocks the Backup method of EncryptionManager.
func (m *MockEncryptionManager) Backup(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Restore mocks the Restore method of EncryptionManager.
func (m *MockEncryptionManager) Restore(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// HealthCheck mocks the HealthCheck method of EncryptionManager.
func (m *MockEncryptionManager) HealthCheck(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// Keys mocks the Keys method of EncryptionManager.
func (m *MockEncryptionManager) Keys() []cryptoDomain.KeyInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]cryptoDomain.KeyInfo)
}

// Close mocks the Close method of EncryptionManager.
func (m *MockEncryptionManager) Close() {
	m.Called()
}
