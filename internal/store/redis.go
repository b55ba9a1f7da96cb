package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "examportal:"

type redisBackend struct {
	rdb *redis.Client
}

// openRedis connects using a redis:// URL.
func openRedis(ctx context.Context, dsn string) (*redisBackend, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 5
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisBackend{rdb: rdb}, nil
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key, value string) error {
	return b.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

func (b *redisBackend) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = redisKeyPrefix + k
	}
	return b.rdb.Del(ctx, prefixed...).Err()
}

func (b *redisBackend) Close() error {
	return b.rdb.Close()
}
