// redis.go -- go-redis client for short-lived auth state.
//
// Holds OTP codes, cooldown/lock flags, request counters and password reset tickets.
// Every key carries a TTL; nothing here is durable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings to verify connectivity.
// The returned client is shared by RedisCache and the mail queue (one pool).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisCache wraps a Redis client with the small key/value surface auth needs.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing client. Does not own it; caller closes rdb.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// CacheEntry is one key/value/TTL triple for SetAll.
type CacheEntry struct {
	Key   string
	Value string
	TTL   time.Duration
}

// incrWithTTLScript increments KEYS[1] and resets its TTL to ARGV[1] ms in one step.
// Returns the post-increment count.
var incrWithTTLScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

// Get returns the value at key, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	return v, nil
}

// GetDel atomically reads and deletes key. Returns ErrCacheMiss if absent.
func (c *RedisCache) GetDel(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("consuming %s: %w", key, err)
	}
	return v, nil
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return n > 0, nil
}

// Set writes key with the given TTL. A zero TTL is rejected: every auth key must expire.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("setting %s: ttl must be positive", key)
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// SetAll writes every entry in one MULTI/EXEC pipeline.
func (c *RedisCache) SetAll(ctx context.Context, entries ...CacheEntry) error {
	pipe := c.rdb.TxPipeline()
	for _, e := range entries {
		if e.TTL <= 0 {
			return fmt.Errorf("setting %s: ttl must be positive", e.Key)
		}
		pipe.Set(ctx, e.Key, e.Value, e.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting %d keys: %w", len(entries), err)
	}
	return nil
}

// Del removes keys. Missing keys are not an error.
func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// IncrWithTTL atomically increments key and resets its TTL, returning the new count.
// Sliding window: every call pushes expiry out to ttl from now.
func (c *RedisCache) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrWithTTLScript.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	return n, nil
}

// CheckHealth pings Redis.
func (c *RedisCache) CheckHealth(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
