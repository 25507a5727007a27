package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"SignalLab/internal/domain/repository"
	"SignalLab/pkg/cache"
	"SignalLab/pkg/logger"
)

type Kind string

const (
	Historical Kind = "historical"
	Realtime   Kind = "realtime"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case Historical, Realtime:
		return k, nil
	}
	return "", fmt.Errorf("unknown market data kind %q", s)
}

// Upstream fetches a fresh payload for one symbol.
type Upstream interface {
	Fetch(ctx context.Context, symbol string, kind Kind) (json.RawMessage, error)
}

// UpstreamError reports a failed fetch. Status is the upstream HTTP status
// when one was received.
type UpstreamError struct {
	Symbol string
	Kind   Kind
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s data for %s: upstream status %d: %v", e.Kind, e.Symbol, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s data for %s: %v", e.Kind, e.Symbol, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type entry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Cache serves market data from a store while it is fresh and refetches it
// from the upstream otherwise. Freshness is judged by the stored fetch time
// against the cache's own clock.
type Cache struct {
	upstream Upstream
	store    cache.Service
	now      func() time.Time
	ttl      map[Kind]time.Duration
	coalesce bool
	group    singleflight.Group
	metrics  repository.Metrics
	logger   *logger.Logger
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithTTL(kind Kind, d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl[kind] = d
		}
	}
}

// WithCoalescing controls whether concurrent misses for one key share a
// single upstream fetch. On by default.
func WithCoalescing(enabled bool) Option {
	return func(c *Cache) { c.coalesce = enabled }
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func NewCache(upstream Upstream, store cache.Service, opts ...Option) *Cache {
	c := &Cache{
		upstream: upstream,
		store:    store,
		now:      time.Now,
		ttl: map[Kind]time.Duration{
			Historical: 24 * time.Hour,
			Realtime:   60 * time.Second,
		},
		coalesce: true,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns how long an entry of kind stays servable.
func (c *Cache) TTL(kind Kind) time.Duration {
	return c.ttl[kind]
}

// Get returns the payload for symbol, fetching it when absent or stale.
func (c *Cache) Get(ctx context.Context, symbol string, kind Kind) (json.RawMessage, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if _, ok := c.ttl[kind]; !ok {
		return nil, fmt.Errorf("unknown market data kind %q", kind)
	}
	key := Key(symbol, kind)

	if payload, ok := c.lookup(ctx, key, kind); ok {
		c.recordLookup(kind, "hit")
		return payload, nil
	}
	c.recordLookup(kind, "miss")

	if !c.coalesce {
		return c.refresh(ctx, key, symbol, kind)
	}
	// the shared fetch outlives any single caller; each caller waits on its
	// own context
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// another caller may have stored a fresh entry while we waited
		if payload, ok := c.lookup(fetchCtx, key, kind); ok {
			return payload, nil
		}
		return c.refresh(fetchCtx, key, symbol, kind)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("market data fetch shared", logger.String("key", key))
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached entry for symbol.
func (c *Cache) Invalidate(ctx context.Context, symbol string, kind Kind) error {
	if err := c.store.Delete(ctx, Key(strings.ToUpper(symbol), kind)); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, key string, kind Kind) (json.RawMessage, bool) {
	var e entry
	if err := c.store.Get(ctx, key, &e); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("market data cache read failed", logger.String("key", key), logger.Error(err))
		}
		return nil, false
	}
	if c.now().Sub(e.FetchedAt) >= c.ttl[kind] {
		return nil, false
	}
	return e.Payload, true
}

func (c *Cache) refresh(ctx context.Context, key, symbol string, kind Kind) (json.RawMessage, error) {
	start := time.Now()
	payload, err := c.upstream.Fetch(ctx, symbol, kind)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.recordFetch(kind, "error", elapsed)
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return nil, ue
		}
		return nil, &UpstreamError{Symbol: symbol, Kind: kind, Err: err}
	}
	c.recordFetch(kind, "ok", elapsed)

	e := entry{Payload: payload, FetchedAt: c.now()}
	if err := c.store.Set(ctx, key, e, c.ttl[kind]); err != nil {
		c.logger.Warn("market data cache write failed", logger.String("key", key), logger.Error(err))
	}
	return payload, nil
}

func (c *Cache) recordLookup(kind Kind, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(string(kind), result)
	}
}

func (c *Cache) recordFetch(kind Kind, result string, seconds float64) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamFetch(string(kind), result, seconds)
	}
}

// Key is the store key for one symbol and kind.
func Key(symbol string, kind Kind) string {
	return cache.GenerateKey("marketdata", string(kind), symbol)
}
