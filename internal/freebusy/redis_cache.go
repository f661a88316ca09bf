package freebusy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "freebusy"

// RedisCache stores results as JSON under "{prefix}:{user}:{date}" with a
// per-entry expiry, so several API replicas share one cache.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache wraps an existing go-redis client. An empty prefix defaults to "freebusy".
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(userID string, date time.Time) string {
	return c.prefix + ":" + cacheKey(userID, date)
}

func (c *RedisCache) Get(ctx context.Context, userID string, date time.Time) (*Result, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, date time.Time, r *Result, ttl time.Duration) error {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return c.client.Set(ctx, c.key(userID, date), raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string, date time.Time) error {
	return c.client.Del(ctx, c.key(userID, date)).Err()
}

func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	pattern := c.prefix + ":" + userID + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting cache keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
