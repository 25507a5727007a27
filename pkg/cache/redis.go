package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOption func(*redisOptions)

type redisOptions struct {
	addr     string
	password string
	db       int
	prefix   string
}

func WithRedisAddr(addr string) RedisOption {
	return func(o *redisOptions) { o.addr = addr }
}

func WithRedisPassword(password string) RedisOption {
	return func(o *redisOptions) { o.password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(o *redisOptions) { o.db = db }
}

// WithRedisPrefix namespaces cache keys; the default is "signallab".
func WithRedisPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

func redisDefaults(opts []RedisOption) redisOptions {
	o := redisOptions{addr: "localhost:6379", prefix: "signallab"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRedisClient dials Redis and checks it with PING. The client is shared
// by the cache store and the Redis job queue.
func NewRedisClient(opts ...RedisOption) (*redis.Client, error) {
	o := redisDefaults(opts)
	client := redis.NewClient(&redis.Options{
		Addr:         o.addr,
		Password:     o.password,
		DB:           o.db,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.addr, err)
	}
	return client, nil
}

// RedisCache stores entries under "<prefix>:<key>". It does not own the
// client.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	return &RedisCache{client: client, prefix: redisDefaults(opts).prefix}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, _, err := c.getWithTTL(ctx, key, false)
	if err != nil {
		return err
	}
	return decode(data, dest)
}

// getWithTTL reads the value and, when withTTL is set, its remaining
// lifetime in the same round trip.
func (c *RedisCache) getWithTTL(ctx context.Context, key string, withTTL bool) ([]byte, time.Duration, error) {
	k := c.key(key)
	if !withTTL {
		data, err := c.client.Get(ctx, k).Bytes()
		return data, 0, missing(err)
	}

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, k)
		pttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}
	data, err := get.Bytes()
	if err != nil {
		return nil, 0, missing(err)
	}
	return data, pttl.Val(), nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Unlink(ctx, full...).Err()
}

func (c *RedisCache) Close() error { return nil }

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

func missing(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	return err
}
