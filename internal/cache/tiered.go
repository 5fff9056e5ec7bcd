package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/allisson/secretkeeper/internal/breaker"
	cryptoService "github.com/allisson/secretkeeper/internal/crypto/service"
	apperrors "github.com/allisson/secretkeeper/internal/errors"
	"github.com/allisson/secretkeeper/internal/metrics"
	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

// Sealer encrypts values stored in the distributed tier.
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, token []byte, reencrypt bool) (cryptoService.DecryptResult, error)
}

// CircuitBreaker guards calls to the distributed tier.
type CircuitBreaker interface {
	Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Alerter receives tier failures.
type Alerter interface {
	Send(ctx context.Context, text string, metadata map[string]string)
}

// Options holds per-tier TTLs. A zero TTL stores entries without expiry.
type Options struct {
	LocalTTL       time.Duration
	DistributedTTL time.Duration
	SecondaryTTL   time.Duration
}

// Option configures optional TieredCache collaborators.
type Option func(*TieredCache)

// WithSealer encrypts distributed-tier values at rest.
func WithSealer(s Sealer) Option {
	return func(c *TieredCache) { c.sealer = s }
}

// WithBreaker routes distributed-tier calls through the distributed-cache breaker.
func WithBreaker(cb CircuitBreaker) Option {
	return func(c *TieredCache) { c.breaker = cb }
}

// WithAlerter reports tier failures.
func WithAlerter(a Alerter) Option {
	return func(c *TieredCache) { c.alerter = a }
}

// WithMetrics records hits and misses.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(c *TieredCache) { c.metrics = m }
}

// TieredCache looks secrets up local → distributed → secondary, promoting
// lower-tier hits upward. Any tier may be nil. Tier failures never surface
// from Get; they are logged, alerted and treated as a miss for that tier.
type TieredCache struct {
	local       Tier
	distributed Tier
	secondary   Tier
	opts        Options
	logger      *slog.Logger

	sealer  Sealer
	breaker CircuitBreaker
	alerter Alerter
	metrics metrics.CacheMetrics
}

// NewTieredCache creates a TieredCache over the given tiers.
func NewTieredCache(
	local, distributed, secondary Tier,
	logger *slog.Logger,
	opts Options,
	options ...Option,
) *TieredCache {
	c := &TieredCache{
		local:       local,
		distributed: distributed,
		secondary:   secondary,
		opts:        opts,
		logger:      logger,
		metrics:     metrics.NewNoOpCacheMetrics(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Get returns the cached value for name and the tier that served it.
func (c *TieredCache) Get(ctx context.Context, name string) ([]byte, secretsDomain.Origin, bool) {
	if value, ok := c.tierGet(ctx, c.local, name); ok {
		c.metrics.RecordHit(ctx, TierLocal)
		return value, secretsDomain.OriginLocal, true
	}

	if value, ok := c.getDistributed(ctx, name); ok {
		c.metrics.RecordHit(ctx, TierDistributed)
		c.tierSet(ctx, c.local, name, value, c.opts.LocalTTL)
		c.tierSet(ctx, c.secondary, name, value, c.opts.SecondaryTTL)
		return value, secretsDomain.OriginDistributed, true
	}

	if value, ok := c.tierGet(ctx, c.secondary, name); ok {
		c.metrics.RecordHit(ctx, TierSecondary)
		c.tierSet(ctx, c.local, name, value, c.opts.LocalTTL)
		_ = c.setDistributed(ctx, name, value)
		return value, secretsDomain.OriginSecondary, true
	}

	c.metrics.RecordMiss(ctx)
	c.logger.Debug("cache miss", slog.String("secret_name", name))
	return nil, "", false
}

// Set writes value to every configured tier. It fails with ErrCaching only
// when every configured tier failed.
func (c *TieredCache) Set(ctx context.Context, name string, value []byte) error {
	var (
		configured int
		errs       []error
	)
	for _, t := range []struct {
		tier Tier
		ttl  time.Duration
	}{{c.local, c.opts.LocalTTL}, {c.secondary, c.opts.SecondaryTTL}} {
		if t.tier == nil {
			continue
		}
		configured++
		if err := c.tierSet(ctx, t.tier, name, value, t.ttl); err != nil {
			errs = append(errs, err)
		}
	}
	if c.distributed != nil {
		configured++
		if err := c.setDistributed(ctx, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return allFailed(configured, errs)
}

// Remove invalidates name in every configured tier, with the same failure rule as Set.
func (c *TieredCache) Remove(ctx context.Context, name string) error {
	var (
		configured int
		errs       []error
	)
	for _, tier := range []Tier{c.local, c.distributed, c.secondary} {
		if tier == nil {
			continue
		}
		configured++

		var err error
		if tier == c.distributed {
			err = c.guard(ctx, func(ctx context.Context) error { return tier.Delete(ctx, name) })
		} else {
			err = tier.Delete(ctx, name)
		}
		if err != nil {
			c.tierFailed(ctx, tier.Name(), "delete", name, err)
			errs = append(errs, err)
		}
	}
	return allFailed(configured, errs)
}

// Ping checks the distributed tier. It is nil when that tier is disabled.
func (c *TieredCache) Ping(ctx context.Context) error {
	if c.distributed == nil {
		return nil
	}
	return c.distributed.Ping(ctx)
}

// Purge sweeps expired entries from tiers that support it.
func (c *TieredCache) Purge() int {
	removed := 0
	for _, tier := range []Tier{c.local, c.secondary} {
		if p, ok := tier.(interface{ Purge() int }); ok {
			removed += p.Purge()
		}
	}
	return removed
}

// Close releases tiers holding connections.
func (c *TieredCache) Close() error {
	var errs []error
	for _, tier := range []Tier{c.local, c.distributed, c.secondary} {
		if closer, ok := tier.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s tier: %w", tier.Name(), err))
			}
		}
	}
	return apperrors.Join(errs...)
}

func (c *TieredCache) tierGet(ctx context.Context, tier Tier, name string) ([]byte, bool) {
	if tier == nil {
		return nil, false
	}
	value, ok, err := tier.Get(ctx, name)
	if err != nil {
		c.tierFailed(ctx, tier.Name(), "get", name, err)
		return nil, false
	}
	return value, ok
}

func (c *TieredCache) tierSet(ctx context.Context, tier Tier, name string, value []byte, ttl time.Duration) error {
	if tier == nil {
		return nil
	}
	if err := tier.Set(ctx, name, value, ttl); err != nil {
		c.tierFailed(ctx, tier.Name(), "set", name, err)
		return err
	}
	return nil
}

func (c *TieredCache) getDistributed(ctx context.Context, name string) ([]byte, bool) {
	if c.distributed == nil {
		return nil, false
	}

	var (
		raw   []byte
		found bool
	)
	err := c.guard(ctx, func(ctx context.Context) error {
		var err error
		raw, found, err = c.distributed.Get(ctx, name)
		return err
	})
	if err != nil {
		c.tierFailed(ctx, TierDistributed, "get", name, err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	if c.sealer == nil || !cryptoService.IsSealed(raw) {
		return raw, true
	}

	result, err := c.sealer.Decrypt(ctx, raw, true)
	if err != nil {
		c.tierFailed(ctx, TierDistributed, "decrypt", name, err)
		return nil, false
	}
	if result.Reencrypted != nil {
		if err := c.putDistributed(ctx, name, result.Reencrypted); err == nil {
			c.logger.Debug("re-encrypted distributed cache entry with primary key",
				slog.String("secret_name", name),
				slog.Int("key_index", result.KeyIndex),
			)
		}
	}
	return result.Plaintext, true
}

func (c *TieredCache) setDistributed(ctx context.Context, name string, value []byte) error {
	if c.distributed == nil {
		return nil
	}
	stored := value
	if c.sealer != nil {
		token, err := c.sealer.Encrypt(ctx, value)
		if err != nil {
			c.tierFailed(ctx, TierDistributed, "encrypt", name, err)
			return err
		}
		stored = token
	}
	return c.putDistributed(ctx, name, stored)
}

func (c *TieredCache) putDistributed(ctx context.Context, name string, stored []byte) error {
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.distributed.Set(ctx, name, stored, c.opts.DistributedTTL)
	})
	if err != nil {
		c.tierFailed(ctx, TierDistributed, "set", name, err)
	}
	return err
}

func (c *TieredCache) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, breaker.DistributedCache, fn)
}

// tierFailed logs a tier failure and alerts on it. Calls rejected by an open
// breaker are only logged; the breaker transition has already been alerted.
func (c *TieredCache) tierFailed(ctx context.Context, tier, op, name string, err error) {
	if apperrors.Is(err, breaker.ErrCircuitOpen) {
		c.logger.Debug("cache tier skipped, breaker open",
			slog.String("tier", tier),
			slog.String("secret_name", name),
		)
		return
	}

	c.logger.Warn("cache tier failed",
		slog.String("tier", tier),
		slog.String("op", op),
		slog.String("secret_name", name),
		slog.Any("error", err),
	)
	if c.alerter != nil {
		c.alerter.Send(ctx, fmt.Sprintf("Cache %s on %s tier failed for '%s': %v", op, tier, name, err), map[string]string{
			"dependency":  tier,
			"error_kind":  "caching",
			"secret_name": name,
		})
	}
}

func allFailed(configured int, errs []error) error {
	if configured == 0 || len(errs) < configured {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCaching, apperrors.Join(errs...))
}
