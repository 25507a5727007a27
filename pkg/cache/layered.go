package cache

import (
	"context"
	"time"
)

type LayeredOption func(*LayeredCache)

// WithLayeredMemorySize bounds the number of L1 keys.
func WithLayeredMemorySize(n int) LayeredOption {
	return func(lc *LayeredCache) { lc.l1Size = n }
}

// WithLayeredMemoryTTL caps how long L1 keeps a copy.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(lc *LayeredCache) {
		if ttl > 0 {
			lc.l1TTL = ttl
		}
	}
}

// LayeredCache puts a small in-process LRU in front of Redis so instances
// sharing Redis still answer hot symbols locally. Redis is the source of
// truth: writes go there first, and an L1 copy never outlives the Redis key.
type LayeredCache struct {
	l1     *MemoryCache
	l2     *RedisCache
	l1Size int
	l1TTL  time.Duration
}

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{l2: l2, l1Size: 1000, l1TTL: time.Minute}
	for _, opt := range opts {
		opt(lc)
	}
	lc.l1 = NewMemoryCache(WithMemoryMaxSize(lc.l1Size), WithMemoryCleanup(lc.l1TTL))
	return lc
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, value, lc.capTTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if lc.l1.Get(ctx, key, &raw) == nil {
		return decode(raw, dest)
	}
	raw, ttl, err := lc.l2.getWithTTL(ctx, key, true)
	if err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, lc.capTTL(ttl))
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	return lc.l1.Close()
}

// capTTL bounds an L1 lifetime by l1TTL. Keys without expiry in Redis get
// the full l1TTL.
func (lc *LayeredCache) capTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > lc.l1TTL {
		return lc.l1TTL
	}
	return ttl
}
