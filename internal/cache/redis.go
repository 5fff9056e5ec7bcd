package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the distributed tier. Keys are namespaced with a prefix.
type RedisTier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTier wraps an existing client.
func NewRedisTier(client redis.UniversalClient, prefix string) *RedisTier {
	return &RedisTier{client: client, prefix: prefix}
}

// OpenRedisTier connects to a redis:// or rediss:// URL. The connection is
// established lazily; use Ping to verify it.
func OpenRedisTier(url, prefix string) (*RedisTier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisTier(redis.NewClient(opts), prefix), nil
}

func (r *RedisTier) Name() string {
	return TierDistributed
}

func (r *RedisTier) key(name string) string {
	return r.prefix + name
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisTier) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisTier) Close() error {
	return r.client.Close()
}
