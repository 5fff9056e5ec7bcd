// Package usecase implements secret retrieval: cache lookup, backend fetch
// with categorized retries behind a circuit breaker, optional decryption of
// sealed values, and bulk refresh.
package usecase

import (
	"context"

	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// Backend is a remote secret store.
type Backend interface {
	Name() string
	Fetch(ctx context.Context, name string) (secretsDomain.Envelope, error)
	Ping(ctx context.Context) error
}

// Cache is the tiered cache in front of the backend.
type Cache interface {
	Get(ctx context.Context, name string) ([]byte, secretsDomain.Origin, bool)
	Set(ctx context.Context, name string, value []byte) error
	Remove(ctx context.Context, name string) error
}

// Decrypter opens values that the backend returns sealed.
type Decrypter interface {
	Decrypt(ctx context.Context, token []byte, reencrypt bool) (cryptoService.DecryptResult, error)
}

// CircuitBreaker guards backend calls.
type CircuitBreaker interface {
	Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Alerter receives terminal retrieval failures.
type Alerter interface {
	Send(ctx context.Context, text string, metadata map[string]string)
}

// SecretRetriever resolves secrets by name.
type SecretRetriever interface {
	// Get returns the secret from cache or, on a miss, from the backend.
	//
	// The returned Secret is owned by the caller, who may zero its Value.
	Get(ctx context.Context, name string) (*secretsDomain.Secret, error)
	// Refresh drops any cached value and fetches name from the backend.
	Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error)
	// RefreshAll refreshes every name concurrently. Failed names map to nil.
	RefreshAll(ctx context.Context, names []string) map[string]*secretsDomain.Secret
}
