package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps each leaderboard view in a HASH (one field per limit or
// province variant) that expires as a whole.
//
//	leaderboard:district:{district}:{period}  field "limit:{n}"
//	leaderboard:candidates:{period}           field "province:{id}"
//	leaderboard:national                      field "limit:{n}"
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key, field string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	payload, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis HGET %s %s: %w", key, field, err)
	}
	return payload, true, nil
}

// Set writes the field in one pipeline. The TTL is only attached when the key
// has none (EXPIRE NX, Redis 7+), so every field of a view dies together at
// most ttl after the first one was cached.
func (c *RedisCache) Set(ctx context.Context, key, field string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, field, payload)
	if c.ttl > 0 {
		pipe.ExpireNX(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis HSET %s %s: %w", key, field, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis DEL %v: %w", keys, err)
	}
	return nil
}
