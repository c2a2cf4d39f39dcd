// Package redis implements the market lock, quote cache, event bus and API
// rate limiter on go-redis/v9. Every key lives under the client's namespace
// so several deployments can share one Redis.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	defaultNamespace    = "friendbet"
	defaultStreamMaxLen = 10_000
)

// ClientConfig holds connection parameters. Addr is host:port or a
// redis:// or rediss:// URL; a URL overrides Password, DB and TLSEnabled.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// Namespace prefixes every key, channel and stream. Empty means "friendbet".
	Namespace string
	// StreamMaxLen caps event streams (approximate trimming). Zero means 10000.
	StreamMaxLen int64
}

type Client struct {
	rdb          *redis.Client
	namespace    string
	streamMaxLen int64
}

// New connects and pings. The connection is closed again if the ping fails.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg ClientConfig) *Client {
	c := &Client{
		rdb:          rdb,
		namespace:    strings.Trim(cfg.Namespace, ":"),
		streamMaxLen: cfg.StreamMaxLen,
	}
	if c.namespace == "" {
		c.namespace = defaultNamespace
	}
	if c.streamMaxLen <= 0 {
		c.streamMaxLen = defaultStreamMaxLen
	}
	return c
}

func clientOptions(cfg ClientConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.MaxRetries = cfg.MaxRetries
		return opts, nil
	}

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
	return opts, nil
}

// key joins parts under the namespace, e.g. key("lock", "market:abc") is
// "friendbet:lock:market:abc".
func (c *Client) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Ping is used as the health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.rdb.Close() }
