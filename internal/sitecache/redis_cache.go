// Package sitecache caches resolved site document ids by domain, saving a
// store round-trip on the hot ingestion path and narrowing the window of the
// concurrent site get-or-create race.
package sitecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds staleness. A stale entry only re-points at an existing
// site document; it never fabricates one.
const DefaultTTL = 12 * time.Hour

// RedisCache is a Redis-backed domain -> site document id cache.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "site:",
		ttl:    DefaultTTL,
	}
}

func (c *RedisCache) key(domain string) string {
	return c.prefix + domain
}

// Get returns the cached site id for a domain, or "" on a miss.
func (c *RedisCache) Get(ctx context.Context, domain string) (string, error) {
	id, err := c.client.Get(ctx, c.key(domain)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup site %s: %w", domain, err)
	}
	return id, nil
}

// Set caches the site id for a domain with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, domain, id string) error {
	if err := c.client.Set(ctx, c.key(domain), id, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache site %s: %w", domain, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
