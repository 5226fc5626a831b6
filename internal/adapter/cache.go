package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
	"github.com/redis/go-redis/v9"
)

const cacheHealthTimeout = 2 * time.Second

// RedisCache implements the ephemeral key-value contract over redis.
// It backs both the short-term recall cache and the write buffer.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheFromURL connects using a redis URL (redis://host:port/db).
func NewRedisCacheFromURL(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrKeyNotFound
		}
		return "", domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("cache get %s: %w", key, err))
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("cache set %s: %w", key, err))
	}
	return nil
}

// Scan returns all keys under prefix. The buffer keyspace is bounded by
// TTL, so a full collect per call stays small.
func (c *RedisCache) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("cache scan %s: %w", prefix, err))
	}
	return keys, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return domain.NewClassified(domain.FailTransientBackend, fmt.Errorf("cache delete %s: %w", key, err))
	}
	return nil
}

func (c *RedisCache) Health(ctx context.Context) domain.Health {
	ctx, cancel := context.WithTimeout(ctx, cacheHealthTimeout)
	defer cancel()

	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return domain.Health{OK: false, LatencyMS: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return domain.Health{OK: true, LatencyMS: time.Since(start).Milliseconds()}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
