// Package ratelimit implements a token bucket rate limiter keyed by client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxClients = 10000
	defaultIdleAfter  = 10 * time.Minute
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per client. Zero or negative disables limiting.
	RPS   float64
	Burst int
	// MaxClients bounds the bucket map; idle buckets are evicted once it fills.
	MaxClients int
	// IdleAfter is how long a bucket must go unused before eviction.
	IdleAfter time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-client token buckets.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	limit      rate.Limit
	burst      int
	maxClients int
	idleAfter  time.Duration
	now        func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	idle := cfg.IdleAfter
	if idle <= 0 {
		idle = defaultIdleAfter
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		limit:      limit,
		burst:      burst,
		maxClients: maxClients,
		idleAfter:  idle,
		now:        now,
	}
}

// Enabled reports whether the limiter ever rejects.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit != rate.Inf
}

// Allow takes a token for key. When none is available it returns false and
// the delay until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			l.evictIdle(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictIdle drops buckets unused for IdleAfter. Callers hold mu.
func (l *Limiter) evictIdle(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleAfter {
			delete(l.buckets, key)
		}
	}
}
