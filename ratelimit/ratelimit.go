// Package ratelimit enforces a per-client-IP request ceiling on the chat
// endpoints, in-process by default and optionally backed by Redis so the
// ceiling holds across a fleet of turnbridge instances.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turnbridge/turnbridge/logger"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key (the caller's bare
// IP address, per SPEC_FULL.md §2 item 7) may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Local is an in-process Limiter built on one golang.org/x/time/rate
// bucket per key. It is the default and requires no external service.
type Local struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	lastSeen map[string]time.Time
}

// NewLocal creates a Local limiter allowing perMinute requests per key,
// with bucket capacity burst.
func NewLocal(perMinute float64, burst int) *Local {
	return &Local{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(perMinute / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

// Allow reports whether key may proceed right now. It never blocks.
func (l *Local) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = time.Now()
	l.mu.Unlock()

	if b.Allow() {
		return Decision{Allowed: true}, nil
	}
	reservation := b.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return Decision{Allowed: false, RetryAfter: delay}, nil
}

// Sweep drops buckets for keys untouched for longer than the configured
// idle TTL, bounding memory growth from clients that stop sending.
func (l *Local) Sweep() int {
	cutoff := time.Now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
			removed++
		}
	}
	return removed
}

// Sweepable is implemented by Limiters that hold idle in-process state
// needing periodic eviction. Local's per-key buckets need it; Redis
// expires its keys natively and does not implement it.
type Sweepable interface {
	RunSweeper(ctx context.Context, interval time.Duration)
}

// RunSweeper periodically calls Sweep until ctx is cancelled. Intended to
// run as its own errgroup member alongside the HTTP serve loop, so the
// Server's Shutdown drains it along with everything else.
func (l *Local) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug("ratelimit: swept idle buckets", "removed", n)
			}
		}
	}
}
