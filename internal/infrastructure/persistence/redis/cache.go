// Package redis holds the optional Redis services of the hub. Cache stores
// JSON values with a TTL. MaterialLock serializes formation runs across
// server nodes, and AnalysisCache keeps class analyses until a domain event
// makes them stale.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects the Redis server. URL wins over the discrete fields.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig points at a local server.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) options() (*redis.Options, error) {
	if c.URL == "" {
		return &redis.Options{
			Addr:         c.Addr(),
			Password:     c.Password,
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			MinIdleConns: c.MinIdleConns,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}, nil
	}
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return opts, nil
}

var (
	// ErrCacheMiss reports an absent key.
	ErrCacheMiss = errors.New("redis: cache miss")

	// ErrUnavailable wraps connection failures.
	ErrUnavailable = errors.New("redis: unavailable")

	// ErrInvalidURL wraps REDIS_URL parse failures.
	ErrInvalidURL = errors.New("redis: invalid URL")
)

// Key layout.
const (
	PrefixAnalysis = "analysis:"
	PrefixLock     = "lock:"
)

// Default TTLs.
const (
	// TTLAnalysisCache bounds staleness when an invalidation is missed.
	TTLAnalysisCache = 10 * time.Minute

	// TTLMaterialLock outlives any formation run; unlock normally comes first.
	TTLMaterialLock = 2 * time.Minute
)

// AnalysisKey is the key of one cached analysis: analysis:<material>:k<k>.
func AnalysisKey(materialID string, k int) string {
	return fmt.Sprintf("%s%s:k%d", PrefixAnalysis, materialID, k)
}

// LockKey is the key of a distributed lock on resource.
func LockKey(resource string) string {
	return PrefixLock + resource
}

// Cache is a go-redis client with JSON helpers.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings within cfg.DialTimeout.
func NewCache(cfg Config) (*Cache, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Cache{client: client}, nil
}

// Client exposes the go-redis client for scripts.
func (c *Cache) Client() *redis.Client { return c.client }

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }

// Ping implements the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores v as JSON under key.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A value written by an older release; treat it as absent.
		_ = c.client.Del(ctx, key).Err()
		return ErrCacheMiss
	}
	return nil
}

// DeleteMatching removes every key matching the glob pattern. It scans in
// batches so a large keyspace never blocks the server.
func (c *Cache) DeleteMatching(ctx context.Context, pattern string) error {
	const batch = 100

	iter := c.client.Scan(ctx, 0, pattern, batch).Iterator()
	keys := make([]string, 0, batch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == batch {
			if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Unlink(ctx, keys...).Err()
	}
	return nil
}

// SetNX stores a raw string only when key is absent.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// FlushDB empties the selected database. Tests use a dedicated DB.
func (c *Cache) FlushDB(ctx context.Context) error {
	return c.client.FlushDB(ctx).Err()
}
