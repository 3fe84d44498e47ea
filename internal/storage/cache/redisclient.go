package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the entry is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// RedisOptions configures the device cache connection.
type RedisOptions struct {
	// Addr is host:port or a redis:// or rediss:// url. A url may carry the
	// password and db itself.
	Addr     string
	Password string
	DB       int
	// Namespace prefixes every key so several devices can share one Redis.
	// It is normally the device id.
	Namespace string
	// PingTimeout bounds the startup check. Defaults to 2s.
	PingTimeout time.Duration
}

// RedisClient is the JSON cache behind the notification store and the avatar
// cache. Keys are scoped to one device.
type RedisClient struct {
	rdb       *redis.Client
	namespace string
}

func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	redisOpts, err := redisOptions(opts)
	if err != nil {
		return nil, err
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", redisOpts.Addr, err)
	}
	return &RedisClient{rdb: rdb, namespace: opts.Namespace}, nil
}

func redisOptions(opts RedisOptions) (*redis.Options, error) {
	if strings.HasPrefix(opts.Addr, "redis://") || strings.HasPrefix(opts.Addr, "rediss://") {
		parsed, err := redis.ParseURL(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if opts.Password != "" {
			parsed.Password = opts.Password
		}
		if opts.DB != 0 {
			parsed.DB = opts.DB
		}
		return parsed, nil
	}
	return &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}, nil
}

// IsMiss reports whether err means the key does not exist.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || errors.Is(err, redis.Nil)
}

func (c *RedisClient) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Get decodes the entry at key into dest.
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return nil
}

// Set stores value as JSON. A zero ttl keeps the entry until it is deleted.
func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return c.rdb.Set(ctx, c.key(key), data, ttl).Err()
}

// Del removes key. Removing an absent key is not an error.
func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
