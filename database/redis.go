package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"advisor/schemas"
)

const REDIS_INDEX_TTL = 90 * 24 * time.Hour

// RedisIndexCache shares key-to-row hints between replicas.
type RedisIndexCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIndexCache(redisURI string) (*RedisIndexCache, error) {
	opts, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return &RedisIndexCache{rdb: redis.NewClient(opts), ttl: REDIS_INDEX_TTL}, nil
}

func (c *RedisIndexCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisIndexCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisIndexCache) Get(ctx context.Context, target schemas.SheetTarget, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, indexKey(target, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisIndexCache) Set(ctx context.Context, target schemas.SheetTarget, key, id string) error {
	return c.rdb.Set(ctx, indexKey(target, key), id, c.ttl).Err()
}
