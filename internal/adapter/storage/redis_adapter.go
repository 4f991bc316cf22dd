package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	correlationKeyPrefix = "corr:"
	correlationKeyTTL    = 24 * time.Hour
)

// RedisAdapter implements the idempotency guard: a correlation id is
// accepted exactly once within the TTL window.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) FirstUse(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, correlationKeyPrefix+key, 1, correlationKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
