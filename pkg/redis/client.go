// Package redis wraps github.com/redis/go-redis/v9 with the generic
// operations the token/project cache mirror needs. It is the optional
// persistence backend for internal/token's caches; the account pool's own
// durable state lives in the Credential Store JSON document instead.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the data this proxy mirrors into Redis.
const (
	PrefixTokenCache   = "cloudcode:token_cache:"
	PrefixProjectCache = "cloudcode:project_cache:"
)

// Client wraps the Redis client with the generic operations used elsewhere.
type Client struct {
	rdb *redis.Client
}

// Config represents Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis, failing fast with a 5s ping budget so
// callers can fall back to memory-only operation instead of blocking boot.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Set stores a JSON-encoded value with optional TTL (ttl<=0 means no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Get retrieves and JSON-decodes a value. Returns redis.Nil via IsNil when
// the key is absent.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// ScanAll returns all keys matching a pattern using cursor-based SCAN.
func (c *Client) ScanAll(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// IsNil reports whether err is redis.Nil (key not found).
func IsNil(err error) bool {
	return err == redis.Nil
}
