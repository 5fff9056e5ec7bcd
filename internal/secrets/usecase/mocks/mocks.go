// Package mocks provides mock implementations of the secrets use case interfaces for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// MockBackend is a mock implementation of Backend.
type MockBackend struct {
	mock.Mock
}

// Name mocks the Name method of Backend.
func (m *MockBackend) Name() string {
	return "mock"
}

// Fetch mocks the Fetch method of Backend.
func (m *MockBackend) Fetch(ctx context.Context, name string) (secretsDomain.Envelope, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(secretsDomain.Envelope), args.Error(1)
}

// Ping mocks the Ping method of Backend.
func (m *MockBackend) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockSecretRetriever is a mock implementation of SecretRetriever.
type MockSecretRetriever struct {
	mock.Mock
}

// Get mocks the Get method of SecretRetriever.
func (m *MockSecretRetriever) Get(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsDomain.Secret), args.Error(1)
}

// Refresh mocks the Refresh method of SecretRetriever.
func (m *MockSecretRetriever) Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretsDomain.Secret), args.Error(1)
}

// RefreshAll mocks the RefreshAll method of SecretRetriever.
func (m *MockSecretRetriever) RefreshAll(ctx context.Context, names []string) map[string]*secretsDomain.Secret {
	args := m.Called(ctx, names)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]*secretsDomain.Secret)
}
