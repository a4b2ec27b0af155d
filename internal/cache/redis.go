package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig configures the shared cache tier.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DefaultTTL   time.Duration `yaml:"default_ttl" env:"REDIS_DEFAULT_TTL"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	Enabled      bool          `yaml:"enabled" env:"REDIS_ENABLED"`
}

// DefaultRedisConfig returns conservative defaults with Redis disabled.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DefaultTTL:  5 * time.Minute,
		DialTimeout: 2 * time.Second,
		Enabled:     false,
	}
}

// SharedCache fronts a TTLCache with an optional Redis tier: reads check
// the in-process cache first, then Redis on a miss, populating the local
// tier for subsequent reads. Writes go to both tiers. Redis values are
// JSON-encoded since the ADV20/funding/filter payloads are simple
// numeric or struct values.
type SharedCache struct {
	local   *TTLCache
	client  *redis.Client
	enabled bool
}

// NewSharedCache wires a TTLCache with an optional Redis client. If
// cfg.Enabled is false, SharedCache behaves as a pure in-process cache.
func NewSharedCache(cfg RedisConfig, localMaxEntries int64) *SharedCache {
	sc := &SharedCache{
		local: NewTTLCache(localMaxEntries),
	}

	if !cfg.Enabled {
		return sc
	}

	sc.client = redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.DB,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	sc.enabled = true

	return sc
}

// Get checks the local tier first, then Redis on a miss.
func (c *SharedCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if v, ok := c.local.Get(key); ok {
		return v, true
	}

	if !c.enabled {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return nil, false
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache value unmarshal failed")
		return nil, false
	}

	c.local.Set(key, v, time.Minute)
	return v, true
}

// Set writes to both the local and Redis tiers.
func (c *SharedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.local.Set(key, value, ttl)

	if !c.enabled {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %q: %w", key, err)
	}

	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for %q: %w", key, err)
	}

	return nil
}

// Stats returns local-tier statistics (Redis-side stats are not tracked
// since the shared tier may be used by other engine instances).
func (c *SharedCache) Stats() Stats {
	return c.local.Stats()
}

// Close releases the Redis client, if any.
func (c *SharedCache) Close() error {
	c.local.Stop()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Ping verifies Redis connectivity; a no-op success when Redis is disabled.
func (c *SharedCache) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
