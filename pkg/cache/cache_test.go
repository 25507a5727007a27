package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "q:AAPL", quote{Symbol: "AAPL", Price: 190.5}, time.Minute))

	var got quote
	require.NoError(t, mc.Get(ctx, "q:AAPL", &got))
	assert.Equal(t, quote{Symbol: "AAPL", Price: 190.5}, got)

	now = now.Add(61 * time.Second)
	assert.ErrorIs(t, mc.Get(ctx, "q:AAPL", &got), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheDoesNotShareMemory(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	raw := json.RawMessage(`{"a":1}`)
	require.NoError(t, mc.Set(ctx, "k", raw, time.Minute))
	raw[2] = 'b'

	var got json.RawMessage
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.JSONEq(t, `{"a":1}`, string(got))
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s)) // a is now most recent
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
	assert.Equal(t, 2, mc.Len())
}

func TestMemoryCacheRemoveExpired(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Now()
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "short", "x", time.Second))
	require.NoError(t, mc.Set(ctx, "long", "y", time.Hour))
	now = now.Add(2 * time.Second)
	mc.removeExpired()

	assert.Equal(t, 1, mc.Len())
	var got string
	require.NoError(t, mc.Get(ctx, "long", &got))
	assert.Equal(t, "y", got)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCache(client, WithRedisPrefix("test"))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rc := newTestRedis(t)

	require.NoError(t, rc.Set(ctx, "q:MSFT", quote{Symbol: "MSFT", Price: 410}, time.Minute))
	assert.True(t, mr.Exists("test:q:MSFT"))

	var got quote
	require.NoError(t, rc.Get(ctx, "q:MSFT", &got))
	assert.Equal(t, 410.0, got.Price)

	_, ttl, err := rc.getWithTTL(ctx, "q:MSFT", true)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, rc.Get(ctx, "q:MSFT", &got), ErrCacheMiss)
	_, _, err = rc.getWithTTL(ctx, "q:MSFT", true)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLayeredCacheFillsL1FromRedis(t *testing.T) {
	ctx := context.Background()
	mr, rc := newTestRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute))
	defer lc.Close()

	require.NoError(t, rc.Set(ctx, "k", quote{Symbol: "IBM", Price: 1}, time.Hour))

	var got quote
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "IBM", got.Symbol)

	// served from L1 even after Redis loses the key
	mr.Del("test:k")
	got = quote{}
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "IBM", got.Symbol)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "marketdata:realtime:AAPL", GenerateKey("marketdata", "realtime", "AAPL"))
	assert.Equal(t, "p", GenerateKey("p"))
}
