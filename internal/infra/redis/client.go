// Package redis provides a hot fingerprint cache in front of the durable
// store. Purely an optimization: a miss falls through to SQLite, which
// stays authoritative, so cache loss is harmless.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the dedup cache.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 91 * 24 * time.Hour // outlive the sent-record retention
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func sentKey(fingerprint string) string {
	return fmt.Sprintf("leadrelay:sent:%s", fingerprint)
}

// SeenSent reports whether the fingerprint is cached as delivered. Errors
// degrade to a miss so the pipeline keeps working without Redis.
func (c *Client) SeenSent(ctx context.Context, fingerprint string) bool {
	n, err := c.rdb.Exists(ctx, sentKey(fingerprint)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkSent caches a delivered fingerprint. Best effort. The TTL outlives
// the sent-record retention window, so a swept record's cache entry just
// ages out on its own.
func (c *Client) MarkSent(ctx context.Context, fingerprint string) {
	_ = c.rdb.Set(ctx, sentKey(fingerprint), 1, c.ttl).Err()
}
