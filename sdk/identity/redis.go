package identity

import (
	"context"
	"time"

	"tapistry/shared/cachex"
)

// RedisStore keeps identifiers in Redis, for hosts that run several SDK
// processes on behalf of one visitor.
type RedisStore struct {
	cache *cachex.Client
}

func NewRedisStore(cache *cachex.Client) *RedisStore {
	return &RedisStore{cache: cache}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	return r.cache.GetString(ctx, key)
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.cache.SetString(ctx, key, value, ttl)
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
