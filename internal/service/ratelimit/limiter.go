package ratelimit

import (
	"math"
	"sync"
	"time"
)

// pruneAbove is the bucket count past which refilled buckets are dropped.
const pruneAbove = 10000

type bucket struct {
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

func (b *bucket) refill(now time.Time) {
	if dt := now.Sub(b.last).Seconds(); dt > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+dt*b.perSec)
		b.last = now
	}
}

// Limiter holds one token bucket per key. The FMP client uses a single key
// for the shared upstream quota; the data routes use one key per user.
// A new bucket starts full.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func New() *Limiter {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: now}
}

func (l *Limiter) Allow(key string, capacity, perSec float64) bool {
	ok, _ := l.Reserve(key, capacity, perSec)
	return ok
}

// Reserve takes a token for key. When none is left it reports how long
// until the next one; zero means never (perSec <= 0).
func (l *Limiter) Reserve(key string, capacity, perSec float64) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= pruneAbove {
			l.prune(now)
		}
		b = &bucket{tokens: capacity, capacity: capacity, perSec: perSec, last: now}
		l.buckets[key] = b
	}
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.perSec <= 0 {
		return false, 0
	}
	return false, time.Duration((1 - b.tokens) / b.perSec * float64(time.Second))
}

// prune drops buckets that have refilled completely; recreating them full
// is equivalent.
func (l *Limiter) prune(now time.Time) {
	for k, b := range l.buckets {
		b.refill(now)
		if b.tokens >= b.capacity {
			delete(l.buckets, k)
		}
	}
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
