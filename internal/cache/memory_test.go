package cache

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTier_SetGet(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Now())
	tier := NewMemoryTier(TierLocal, clk)

	_, ok, err := tier.Get(ctx, "API_KEY")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte("abc123")
	require.NoError(t, tier.Set(ctx, "API_KEY", value, time.Minute))
	value[0] = 'X'

	got, ok, err := tier.Get(ctx, "API_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("abc123"), got, "tier keeps its own copy")

	require.NoError(t, tier.Delete(ctx, "API_KEY"))
	_, ok, _ = tier.Get(ctx, "API_KEY")
	assert.False(t, ok)
	assert.Equal(t, TierLocal, tier.Name())
	assert.NoError(t, tier.Ping(ctx))
}

func TestMemoryTier_Expiry(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Now())
	tier := NewMemoryTier(TierLocal, clk)

	require.NoError(t, tier.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, tier.Set(ctx, "forever", []byte("2"), 0))

	clk.Advance(59 * time.Second)
	_, ok, _ := tier.Get(ctx, "short")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok, _ = tier.Get(ctx, "short")
	assert.False(t, ok, "entries expire exactly at their ttl")
	assert.Equal(t, 1, tier.Len(), "expired entry is removed on read")

	clk.Advance(365 * 24 * time.Hour)
	_, ok, _ = tier.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryTier_Purge(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Now())
	tier := NewMemoryTier(TierSecondary, clk)

	require.NoError(t, tier.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, tier.Set(ctx, "b", []byte("2"), time.Second))
	require.NoError(t, tier.Set(ctx, "c", []byte("3"), time.Hour))

	assert.Zero(t, tier.Purge())
	clk.Advance(time.Minute)
	assert.Equal(t, 2, tier.Purge())
	assert.Equal(t, 1, tier.Len())

	tier.Clear()
	assert.Zero(t, tier.Len())
}
