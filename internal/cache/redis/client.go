// Package redis implements the price cache, keeper locks, nonce guard, rate
// limiter and event bus on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key so several deployments can share a
	// database. Defaults to "bullbear:".
	KeyPrefix string
}

// Client wraps a go-redis Client and owns the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a new Redis Client, pings it to verify connectivity, and returns
// the wrapper.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return Wrap(rdb, cfg.KeyPrefix), nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "bullbear:"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins the namespace prefix, a kind and an id.
func (c *Client) key(kind, id string) string {
	return c.prefix + kind + ":" + id
}
