package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const defaultNamespace = "rb"

// ErrNotConnected is returned by a Client built without a connection.
var ErrNotConnected = errors.New("redis: client not connected")

// commands is the slice of go-redis this package calls, so tests can swap
// the connection for an in-memory fake.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	ExpireNX(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// IdempotencyStore is what the idempotency helpers need from Redis.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Client is the shared Redis handle. Every key it builds lives under one
// namespace so environments can share an instance.
type Client struct {
	cmd       commands
	raw       *redis.Client
	namespace string
}

// New connects using cfg and fails fast when the server is unreachable.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	client := &Client{cmd: raw, raw: raw, namespace: namespaceOrDefault(cfg.Namespace)}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"redis_addr": opts.Addr,
			"redis_db":   opts.DB,
			"pool_size":  opts.PoolSize,
			"namespace":  client.namespace,
		}), "redis connected")
	}
	return client, nil
}

// options starts from the URL when one is set. Explicit pool and timeout
// settings fill in whatever the URL left unset.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}
	fill := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	fill(&opts.DialTimeout, cfg.DialTimeout)
	fill(&opts.ReadTimeout, cfg.ReadTimeout)
	fill(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func namespaceOrDefault(ns string) string {
	ns = strings.Trim(strings.TrimSpace(ns), ":")
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

// Key joins parts under the client namespace, skipping blanks.
func (c *Client) Key(parts ...string) string {
	ns := defaultNamespace
	if c != nil && c.namespace != "" {
		ns = c.namespace
	}
	out := []string{ns}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}

// IdempotencyKey names an idempotency marker.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.Key("idempotency", scope, id)
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmd == nil {
		return "", ErrNotConnected
	}
	return c.cmd.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmd == nil {
		return false, ErrNotConnected
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmd == nil {
		return ErrNotConnected
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// CountInWindow increments the rate-limit counter named key and returns the
// new count. The window starts with the first hit; EXPIRE NX is sent on
// every call so a counter whose first expire was lost still ages out.
func (c *Client) CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c.cmd == nil {
		return 0, ErrNotConnected
	}
	full := c.Key("rate_limit", key)
	count, err := c.cmd.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if window > 0 {
		if err := c.cmd.ExpireNX(ctx, full, window).Err(); err != nil {
			return count, fmt.Errorf("expire %s: %w", full, err)
		}
	}
	return count, nil
}

// Raw exposes the go-redis client for libraries such as redislock.
func (c *Client) Raw() *redis.Client {
	return c.raw
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmd == nil {
		return ErrNotConnected
	}
	return c.cmd.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
