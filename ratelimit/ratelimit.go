// Package ratelimit provides the outgoing rate limiters used by the Bot API client
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides rate limiting functionality
type Limiter interface {
	// Wait blocks until the limiter allows the request
	Wait(ctx context.Context) error
	// Allow checks if a request is allowed without blocking
	Allow() bool
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	l *rate.Limiter
}

// NewTokenBucket creates a new token bucket limiter
// capacity: maximum number of tokens
// refillRate: tokens added per second
func NewTokenBucket(capacity float64, refillRate float64) *TokenBucket {
	burst := max(int(capacity), 1)
	return &TokenBucket{l: rate.NewLimiter(rate.Limit(refillRate), burst)}
}

// Allow checks if a request is allowed without blocking
func (tb *TokenBucket) Allow() bool {
	return tb.l.Allow()
}

// Wait blocks until a token is available or context is cancelled
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.l.Wait(ctx)
}

const (
	// DefaultMaxKeys bounds the number of per-key limiters kept by Keyed
	DefaultMaxKeys = 10000
	// DefaultIdleTTL is how long an unused per-key limiter is kept
	DefaultIdleTTL = 10 * time.Minute
)

// Keyed hands out one token bucket per key (a chat id, for the Bot API), creating them
// on first use. Buckets idle for longer than IdleTTL are dropped on the next sweep, and
// when MaxKeys is reached the least recently used bucket is evicted.
type Keyed struct {
	rps     float64
	burst   int
	maxKeys int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	entries   map[string]*keyedEntry
	lastSweep time.Time
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// NewKeyed creates a keyed limiter allowing rps requests per second per key with the given burst
func NewKeyed(rps float64, burst int) *Keyed {
	return &Keyed{
		rps:     rps,
		burst:   max(burst, 1),
		maxKeys: DefaultMaxKeys,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		entries: make(map[string]*keyedEntry),
	}
}

// WithMaxKeys sets the maximum number of tracked keys
func (k *Keyed) WithMaxKeys(n int) *Keyed {
	if n > 0 {
		k.maxKeys = n
	}
	return k
}

// WithIdleTTL sets how long unused keys are kept
func (k *Keyed) WithIdleTTL(d time.Duration) *Keyed {
	if d > 0 {
		k.idleTTL = d
	}
	return k
}

// Wait blocks until the bucket for key allows the request or ctx is cancelled
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Allow checks if the bucket for key allows a request without blocking
func (k *Keyed) Allow(key string) bool {
	return k.get(key).Allow()
}

// Len returns the number of tracked keys
func (k *Keyed) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}

func (k *Keyed) get(key string) *rate.Limiter {
	now := k.now()

	k.mu.RLock()
	e, ok := k.entries[key]
	k.mu.RUnlock()
	if ok {
		e.lastUsed.Store(now.UnixNano())
		return e.limiter
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if e, ok = k.entries[key]; ok {
		e.lastUsed.Store(now.UnixNano())
		return e.limiter
	}

	if now.Sub(k.lastSweep) >= k.idleTTL {
		k.sweepLocked(now)
	}
	if len(k.entries) >= k.maxKeys {
		k.evictOldestLocked()
	}

	e = &keyedEntry{limiter: rate.NewLimiter(rate.Limit(k.rps), k.burst)}
	e.lastUsed.Store(now.UnixNano())
	k.entries[key] = e
	return e.limiter
}

func (k *Keyed) sweepLocked(now time.Time) {
	threshold := now.Add(-k.idleTTL).UnixNano()
	for key, e := range k.entries {
		if e.lastUsed.Load() < threshold {
			delete(k.entries, key)
		}
	}
	k.lastSweep = now
}

func (k *Keyed) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime int64
		found      bool
	)
	for key, e := range k.entries {
		if t := e.lastUsed.Load(); !found || t < oldestTime {
			oldestKey, oldestTime, found = key, t, true
		}
	}
	if found {
		delete(k.entries, oldestKey)
	}
}
