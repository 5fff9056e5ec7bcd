package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMetrics(t *testing.T) {
	provider, err := NewProvider("cache_test")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	cm, err := NewCacheMetrics(provider.MeterProvider(), "cache_test")
	require.NoError(t, err)

	ctx := context.Background()
	cm.RecordHit(ctx, "local")
	cm.RecordHit(ctx, "local")
	cm.RecordHit(ctx, "distributed")
	cm.RecordMiss(ctx)

	output := scrape(t, provider)
	assertMetricLine(t, output, `cache_test_cache_hits_total`, `tier="local"`, `2`)
	assertMetricLine(t, output, `cache_test_cache_hits_total`, `tier="distributed"`, `1`)
	assert.Regexp(t, `cache_test_cache_misses_total\{[^}]*\} 1`, output)
}

func TestNewNoOpCacheMetrics(t *testing.T) {
	cm := NewNoOpCacheMetrics()

	assert.IsType(t, &NoOpCacheMetrics{}, cm)
	cm.RecordHit(context.Background(), "local")
	cm.RecordMiss(context.Background())
}
