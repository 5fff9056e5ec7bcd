// Package manager wires the secret retriever, the encryption keys, the
// caches, the breakers, alerting, rotation and health checking into a single
// SecretsManager with an explicit Start/Close lifecycle.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/allisson/secretkeeper/internal/breaker"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
	"github.com/allisson/secretkeeper/internal/health"
	"github.com/allisson/secretkeeper/internal/metrics"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

var (
	// ErrManagerClosed is returned by every operation after Close.
	ErrManagerClosed = apperrors.Wrap(apperrors.ErrUnavailable, "secrets manager is closed")

	// ErrEncryptionDisabled is returned by key operations when no encryption key is configured.
	ErrEncryptionDisabled = apperrors.Wrap(apperrors.ErrInvalidInput, "encryption is not configured")
)

// Retriever fetches secrets through the cache tiers and the secret store.
type Retriever interface {
	Get(ctx context.Context, name string) (*secretsDomain.Secret, error)
	Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error)
	RefreshAll(ctx context.Context, names []string) map[string]*secretsDomain.Secret
}

// KeyManager owns the encryption key ring.
type KeyManager interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Rotate(ctx context.Context, passphrases []string) error
	Keys() []cryptoDomain.KeyInfo
	Close()
}

// AlertService batches and delivers alerts.
type AlertService interface {
	Start(ctx context.Context)
	Send(ctx context.Context, text string, metadata map[string]string)
	Close(ctx context.Context)
}

// RotationLoop refreshes secrets in the background.
type RotationLoop interface {
	Start(ctx context.Context) error
	Stop()
}

// HealthChecker probes every dependency.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Closer releases cache connections.
type Closer interface {
	Close() error
}

// Deps are the collaborators of a Manager. Only Retriever is required.
type Deps struct {
	Retriever      Retriever
	Keys           KeyManager
	Cache          Closer
	Breakers       *breaker.Registry
	Alerter        AlertService
	Rotator        RotationLoop
	Health         HealthChecker
	BreakerMetrics metrics.BreakerMetrics
	Logger         *slog.Logger
}

// Options tune a Manager.
type Options struct {
	// SecretNames are refreshed by RefreshAll when it is called without names.
	SecretNames []string
	// RotationEnabled starts the rotation loop on Start.
	RotationEnabled bool
}

// Manager is the entry point applications use to read secrets.
type Manager struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Manager and subscribes it to breaker transitions.
func New(deps Deps, opts Options) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.BreakerMetrics == nil {
		deps.BreakerMetrics = metrics.NewNoOpBreakerMetrics()
	}
	m := &Manager{deps: deps, opts: opts}
	if deps.Breakers != nil {
		deps.Breakers.OnTransition(m.onBreakerTransition)
	}
	return m
}

// Start launches the alert flusher and, when enabled, the rotation loop.
// Calling it again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return nil
	}

	if m.deps.Alerter != nil {
		m.deps.Alerter.Start(ctx)
	}
	if m.opts.RotationEnabled && m.deps.Rotator != nil {
		if err := m.deps.Rotator.Start(ctx); err != nil {
			return apperrors.Wrap(err, "failed to start rotator")
		}
	}
	m.started = true
	m.deps.Logger.Info("secrets manager started", slog.Bool("rotation", m.opts.RotationEnabled))
	return nil
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// Get returns the secret for name, from cache when possible.
func (m *Manager) Get(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.deps.Retriever.Get(ctx, name)
}

// Refresh fetches name from the secret store, bypassing the caches.
func (m *Manager) Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.deps.Retriever.Refresh(ctx, name)
}

// RefreshAll refreshes names, or every configured name when names is empty.
// Failed names map to nil.
func (m *Manager) RefreshAll(ctx context.Context, names []string) (map[string]*secretsDomain.Secret, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = m.opts.SecretNames
	}
	return m.deps.Retriever.RefreshAll(ctx, names), nil
}

// RotateKey derives one new key per passphrase and makes the first primary.
func (m *Manager) RotateKey(ctx context.Context, passphrases []string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if m.deps.Keys == nil {
		return ErrEncryptionDisabled
	}
	return m.deps.Keys.Rotate(ctx, passphrases)
}

// Encrypt seals value with the primary key. The token may be stored in the
// secret store and is opened transparently on retrieval.
func (m *Manager) Encrypt(ctx context.Context, value []byte) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	if m.deps.Keys == nil {
		return "", ErrEncryptionDisabled
	}
	token, err := m.deps.Keys.Encrypt(ctx, value)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// Keys lists the key ring without key material.
func (m *Manager) Keys() ([]cryptoDomain.KeyInfo, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.deps.Keys == nil {
		return nil, ErrEncryptionDisabled
	}
	return m.deps.Keys.Keys(), nil
}

// Health runs every health probe once.
func (m *Manager) Health(ctx context.Context) (health.Report, error) {
	if err := m.checkOpen(); err != nil {
		return health.Report{}, err
	}
	if m.deps.Health == nil {
		return health.Report{Healthy: true, Components: map[string]string{}}, nil
	}
	return m.deps.Health.Check(ctx), nil
}

// Close stops rotation, flushes pending alerts and releases the caches and
// key material. Later calls are no-ops.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.deps.Rotator != nil {
		m.deps.Rotator.Stop()
	}
	if m.deps.Alerter != nil {
		m.deps.Alerter.Close(ctx)
	}

	var errs []error
	if m.deps.Cache != nil {
		if err := m.deps.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if m.deps.Keys != nil {
		m.deps.Keys.Close()
	}

	m.deps.Logger.Info("secrets manager closed")
	return apperrors.Join(errs...)
}

func (m *Manager) onBreakerTransition(event breaker.Event) {
	ctx := context.Background()
	m.deps.BreakerMetrics.RecordTransition(ctx, event.Name, event.From.String(), event.To.String())

	switch event.To {
	case breaker.Open:
		m.deps.Logger.Warn("circuit breaker opened",
			slog.String("dependency", event.Name),
			slog.Int("failures", event.Failures),
		)
		if m.deps.Alerter != nil {
			m.deps.Alerter.Send(ctx,
				fmt.Sprintf("Circuit breaker for %s opened after %d consecutive failures", event.Name, event.Failures),
				map[string]string{
					"dependency": event.Name,
					"error_kind": "circuit_open",
					"failures":   strconv.Itoa(event.Failures),
				},
			)
		}
	case breaker.Closed:
		m.deps.Logger.Info("circuit breaker reset", slog.String("dependency", event.Name))
	}
}
