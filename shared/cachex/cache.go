package cachex

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tapistry/shared/config"
)

var ErrNotInitialized = errors.New("redis client not initialized")

type Client struct {
	redis  *redis.Client
	prefix string
}

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
}

func New(cfg config.Config) (*Client, error) {
	return NewWithOptions(Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
}

func NewWithOptions(opts Options) (*Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Client{redis: rdb, prefix: opts.Prefix}, nil
}

func (c *Client) key(k string) string { return c.prefix + k }

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// SetString stores value under key. A ttl of zero keeps the key forever.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Client) GetString(ctx context.Context, key string) (string, bool, error) {
	if c == nil || c.redis == nil {
		return "", false, ErrNotInitialized
	}
	v, err := c.redis.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Del(ctx, c.key(key)).Err()
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
