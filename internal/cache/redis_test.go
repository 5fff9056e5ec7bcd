package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/secretkeeper/internal/testutil"
)

func TestRedisTier(t *testing.T) {
	ctx := context.Background()
	server, client := testutil.NewMiniRedis(t)
	tier := NewRedisTier(client, "secret:")

	t.Run("Miss", func(t *testing.T) {
		_, ok, err := tier.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetGetWithPrefixAndTTL", func(t *testing.T) {
		require.NoError(t, tier.Set(ctx, "API_KEY", []byte("abc123"), 10*time.Minute))

		stored, err := server.Get("secret:API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "abc123", stored)
		assert.Equal(t, 10*time.Minute, server.TTL("secret:API_KEY"))

		got, ok, err := tier.Get(ctx, "API_KEY")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("abc123"), got)
	})

	t.Run("EntriesExpire", func(t *testing.T) {
		require.NoError(t, tier.Set(ctx, "SHORT", []byte("v"), time.Second))
		server.FastForward(2 * time.Second)

		_, ok, err := tier.Get(ctx, "SHORT")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, tier.Set(ctx, "GONE", []byte("v"), 0))
		require.NoError(t, tier.Delete(ctx, "GONE"))
		assert.False(t, server.Exists("secret:GONE"))
	})

	t.Run("ServerErrors", func(t *testing.T) {
		server.SetError("LOADING redis is loading")
		defer server.SetError("")

		_, _, err := tier.Get(ctx, "API_KEY")
		assert.Error(t, err)
		assert.Error(t, tier.Set(ctx, "API_KEY", []byte("v"), 0))
		assert.Error(t, tier.Ping(ctx))
	})

	assert.NoError(t, tier.Ping(ctx))
	assert.Equal(t, TierDistributed, tier.Name())
}

func TestOpenRedisTier(t *testing.T) {
	ctx := context.Background()
	server, _ := testutil.NewMiniRedis(t)

	tier, err := OpenRedisTier(testutil.RedisURL(server), "p:")
	require.NoError(t, err)
	defer func() { assert.NoError(t, tier.Close()) }()

	require.NoError(t, tier.Ping(ctx))
	require.NoError(t, tier.Set(ctx, "k", []byte("v"), 0))
	assert.True(t, server.Exists("p:k"))

	_, err = OpenRedisTier("localhost:6379", "p:")
	assert.Error(t, err)
}
