package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records secret cache lookups.
type CacheMetrics interface {
	// RecordHit counts a lookup served by tier ("local", "distributed", "secondary").
	RecordHit(ctx context.Context, tier string)
	// RecordMiss counts a lookup no tier could serve.
	RecordMiss(ctx context.Context)
}

type cacheMetrics struct {
	hitCounter  metric.Int64Counter
	missCounter metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics backed by the given meter provider.
func NewCacheMetrics(meterProvider metric.MeterProvider, namespace string) (CacheMetrics, error) {
	meter := meterProvider.Meter(namespace)

	hitCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_cache_hits_total", namespace),
		metric.WithDescription("Total number of secret cache hits by tier"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hit counter: %w", err)
	}

	missCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_cache_misses_total", namespace),
		metric.WithDescription("Total number of secret cache misses"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache miss counter: %w", err)
	}

	return &cacheMetrics{hitCounter: hitCounter, missCounter: missCounter}, nil
}

func (c *cacheMetrics) RecordHit(ctx context.Context, tier string) {
	c.hitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context) {
	c.missCounter.Add(ctx, 1)
}

// NoOpCacheMetrics discards cache metrics.
type NoOpCacheMetrics struct{}

// NewNoOpCacheMetrics creates a no-op CacheMetrics implementation.
func NewNoOpCacheMetrics() CacheMetrics {
	return &NoOpCacheMetrics{}
}

// RecordHit does nothing when metrics are disabled.
func (n *NoOpCacheMetrics) RecordHit(ctx context.Context, tier string) {}

// RecordMiss does nothing when metrics are disabled.
func (n *NoOpCacheMetrics) RecordMiss(ctx context.Context) {}
