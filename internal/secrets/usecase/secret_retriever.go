package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/allisson/secretkeeper/internal/breaker"
	cryptoDomain "github.com/allisson/secretkeeper/internal/crypto/domain"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
	"github.com/allisson/secretkeeper/internal/secrets/backend"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// refreshConcurrency bounds the backend calls in flight during RefreshAll.
const refreshConcurrency = 8

// Retrieval states, logged under the "state" attribute.
const (
	stateNotCached = "not_cached"
	stateFetching  = "fetching"
	stateRetrying  = "retrying"
	stateCached    = "cached"
	stateFailed    = "failed"
)

// errorKindDecryption labels alerts for sealed values that could not be opened.
const errorKindDecryption = "decryption"

type secretRetriever struct {
	backend   Backend
	cache     Cache
	decrypter Decrypter
	breaker   CircuitBreaker
	alerter   Alerter
	policy    RetryPolicy
	clock     clock.Clock
	logger    *slog.Logger
	group     singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of a shared fetch. It is cancelled once every caller
// waiting on the fetch has gone away.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewSecretRetriever creates a SecretRetriever. cache, decrypter, cb and
// alerter may be nil.
func NewSecretRetriever(
	backend Backend,
	cache Cache,
	decrypter Decrypter,
	cb CircuitBreaker,
	alerter Alerter,
	policy RetryPolicy,
	clk clock.Clock,
	logger *slog.Logger,
) SecretRetriever {
	return &secretRetriever{
		backend:   backend,
		cache:     cache,
		decrypter: decrypter,
		breaker:   cb,
		alerter:   alerter,
		policy:    policy,
		clock:     clk,
		logger:    logger,
		flights:   make(map[string]*flight),
	}
}

func (r *secretRetriever) Get(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	if name == "" {
		return nil, apperrors.Wrap(secretsDomain.ErrInvalidRequest, "secret name is empty")
	}

	if r.cache != nil {
		if value, origin, ok := r.cache.Get(ctx, name); ok {
			return &secretsDomain.Secret{Name: name, Value: value, Origin: origin, FetchedAt: r.clock.Now()}, nil
		}
	}
	r.logger.Debug("secret not cached", slog.String("secret_name", name), slog.String("state", stateNotCached))

	f := r.join(ctx, name)
	defer r.leave(name, f)

	ch := r.group.DoChan(name, func() (any, error) {
		return r.fetch(f.ctx, name)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to retrieve secret %q: %w", name, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}

	secret := res.Val.(*secretsDomain.Secret)
	if res.Shared {
		copied := *secret
		copied.Value = bytes.Clone(secret.Value)
		return &copied, nil
	}
	return secret, nil
}

// join registers the caller as a waiter on the shared fetch for name.
func (r *secretRetriever) join(ctx context.Context, name string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[name]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[name] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the fetch and makes sure
// later callers start a fresh one.
func (r *secretRetriever) leave(name string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[name] == f {
		delete(r.flights, name)
	}
	r.group.Forget(name)
}

func (r *secretRetriever) Refresh(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	if r.cache != nil {
		if err := r.cache.Remove(ctx, name); err != nil {
			r.logger.Warn("failed to invalidate cached secret",
				slog.String("secret_name", name),
				slog.Any("error", err),
			)
		}
	}
	return r.Get(ctx, name)
}

func (r *secretRetriever) RefreshAll(ctx context.Context, names []string) map[string]*secretsDomain.Secret {
	unique := slices.Clone(names)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	var (
		mu      sync.Mutex
		results = make(map[string]*secretsDomain.Secret, len(unique))
		g       errgroup.Group
	)
	g.SetLimit(refreshConcurrency)

	for _, name := range unique {
		g.Go(func() error {
			secret, err := r.Refresh(ctx, name)
			if err != nil {
				r.logger.Error("failed to refresh secret",
					slog.String("secret_name", name),
					slog.Any("error", err),
				)
			}

			mu.Lock()
			results[name] = secret
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetch runs the retry loop against the backend and populates the cache.
func (r *secretRetriever) fetch(ctx context.Context, name string) (*secretsDomain.Secret, error) {
	logger := r.logger.With(slog.String("secret_name", name), slog.String("backend", r.backend.Name()))

	var envelope secretsDomain.Envelope
	attempted, err := r.policy.Run(ctx, r.clock, func() error {
		var fetchErr error
		logger.Debug("fetching secret", slog.String("state", stateFetching))
		envelope, fetchErr = r.fetchOnce(ctx, name)
		return fetchErr
	}, func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying secret fetch",
			slog.String("state", stateRetrying),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
	})
	if err != nil {
		return nil, r.failed(ctx, logger, name, attempted, kindLabel(err), err)
	}

	value, err := r.open(ctx, name, envelope)
	if err != nil {
		kind := secretsDomain.KindInvalidRequest.String()
		if apperrors.Is(err, cryptoDomain.ErrDecryption) {
			kind = errorKindDecryption
		}
		return nil, r.failed(ctx, logger, name, attempted, kind, err)
	}

	if r.cache != nil {
		if cacheErr := r.cache.Set(ctx, name, value); cacheErr != nil {
			logger.Warn("failed to cache secret", slog.Any("error", cacheErr))
		}
	}
	logger.Info("secret retrieved", slog.String("state", stateCached), slog.Int("attempts", attempted))

	return &secretsDomain.Secret{
		Name:      name,
		Value:     value,
		Origin:    secretsDomain.OriginBackend,
		FetchedAt: r.clock.Now(),
	}, nil
}

// fetchOnce performs one guarded backend call. Missing secrets and malformed
// requests are returned to the caller without counting against the breaker.
func (r *secretRetriever) fetchOnce(ctx context.Context, name string) (secretsDomain.Envelope, error) {
	var (
		envelope secretsDomain.Envelope
		fetchErr error
	)
	err := r.guard(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := r.attemptContext(ctx)
		defer cancel()

		envelope, fetchErr = r.backend.Fetch(attemptCtx, name)
		if fetchErr == nil {
			return nil
		}
		fetchErr = r.categorize(ctx, attemptCtx, name, fetchErr)

		switch secretsDomain.KindOf(fetchErr) {
		case secretsDomain.KindNotFound, secretsDomain.KindInvalidRequest:
			return nil
		default:
			return fetchErr
		}
	})
	if err != nil {
		return secretsDomain.Envelope{}, err
	}
	return envelope, fetchErr
}

func (r *secretRetriever) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.breaker == nil {
		return fn(ctx)
	}
	return r.breaker.Execute(ctx, breaker.SecretStore, fn)
}

func (r *secretRetriever) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.AttemptTimeout)
}

// categorize makes sure err carries an ErrorKind. An attempt that ran out of
// its own time budget is transient; a caller cancellation is not.
func (r *secretRetriever) categorize(parent, attemptCtx context.Context, name string, err error) error {
	if secretsDomain.KindOf(err) != secretsDomain.KindUnknown {
		return err
	}
	kind := backend.Categorize(err)
	if kind == secretsDomain.KindUnknown && parent.Err() == nil && attemptCtx.Err() != nil {
		kind = secretsDomain.KindTransient
	}
	return secretsDomain.NewBackendError(kind, "Fetch", name, err)
}

// open extracts the value from the envelope and decrypts sealed values.
func (r *secretRetriever) open(ctx context.Context, name string, envelope secretsDomain.Envelope) ([]byte, error) {
	value, err := envelope.Value(name)
	if err != nil {
		return nil, err
	}
	if r.decrypter == nil || !bytes.HasPrefix(value, []byte(cryptoService.TokenPrefix)) {
		return value, nil
	}

	result, err := r.decrypter.Decrypt(ctx, value, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed secret %q: %w", name, err)
	}
	return result.Plaintext, nil
}

func (r *secretRetriever) failed(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	attempts int,
	kind string,
	err error,
) error {
	logger.Error("secret retrieval failed",
		slog.String("state", stateFailed),
		slog.String("error_kind", kind),
		slog.Int("attempts", attempts),
		slog.Any("error", err),
	)
	if r.alerter != nil {
		r.alerter.Send(ctx, fmt.Sprintf("Failed to retrieve secret '%s': %v", name, err), map[string]string{
			"secret_name":   name,
			"error_kind":    kind,
			"dependency":    breaker.SecretStore,
			"attempt_count": strconv.Itoa(attempts),
		})
	}
	return fmt.Errorf("failed to retrieve secret %q: %w", name, err)
}

func kindLabel(err error) string {
	if apperrors.Is(err, breaker.ErrCircuitOpen) {
		return "circuit_open"
	}
	return secretsDomain.KindOf(err).String()
}
