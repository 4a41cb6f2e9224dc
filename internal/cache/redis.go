// Package cache provides the revocation fast path consulted before the
// credential store on token verification
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis revocation cache
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "revoked:",
	}
}

// RedisRevocationCache tracks revoked credential ids in Redis. Entries
// expire with the credential so the set stays bounded. A cache miss is not
// authoritative; the store is.
type RedisRevocationCache struct {
	client redis.UniversalClient
	prefix string
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisRevocationCache creates a Redis-backed revocation cache and
// verifies connectivity
func NewRedisRevocationCache(ctx context.Context, config *RedisConfig) (*RedisRevocationCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisRevocationCache{
		client: client,
		prefix: config.KeyPrefix,
	}, nil
}

// NewRedisRevocationCacheFromClient wraps an existing client (tests)
func NewRedisRevocationCacheFromClient(client redis.UniversalClient, keyPrefix string) *RedisRevocationCache {
	if keyPrefix == "" {
		keyPrefix = "revoked:"
	}
	return &RedisRevocationCache{client: client, prefix: keyPrefix}
}

// MarkRevoked records a credential id as revoked until its expiry
func (c *RedisRevocationCache) MarkRevoked(ctx context.Context, credentialID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.prefix+credentialID, "1", ttl).Err()
}

// IsRevoked reports whether a credential id is in the revocation set
func (c *RedisRevocationCache) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	err := c.client.Get(ctx, c.prefix+credentialID).Err()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.hits.Add(1)
	return true, nil
}

// Stats returns hit and miss counts
func (c *RedisRevocationCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the underlying client
func (c *RedisRevocationCache) Close() error {
	return c.client.Close()
}
