package registry

import (
	"context"
	"time"

	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
)

// Reaper periodically evicts idle Sessions from a Registry. It runs as a
// single long-lived goroutine and honors context cancellation: on
// shutdown it exits promptly without starting a new sweep.
type Reaper struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration

	onSweep func(removed int, duration time.Duration)
}

// NewReaper creates a Reaper that evicts Sessions idle longer than ttl,
// sweeping every interval.
func NewReaper(registry *Registry, ttl, interval time.Duration) *Reaper {
	return &Reaper{registry: registry, ttl: ttl, interval: interval}
}

// OnSweep registers a callback invoked after every sweep (including
// no-op sweeps) with the number removed and how long the sweep took.
// Intended for metrics instrumentation. The callback field is not
// synchronized with Run's goroutine, so OnSweep must be called before Run
// starts.
func (r *Reaper) OnSweep(fn func(removed int, duration time.Duration)) {
	r.onSweep = fn
}

// Run blocks, sweeping the Registry every interval until ctx is
// cancelled. It is intended to be launched in its own goroutine (or as
// one member of an errgroup alongside the HTTP serve loop).
func (r *Reaper) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Reaper) sweepOnce() {
	start := time.Now()
	removed := r.registry.CleanupExpired(r.ttl)
	elapsed := time.Since(start)

	metrics.RecordReaperSweep(removed, elapsed.Seconds())
	metrics.SetSessionsActive(r.registry.Count())
	if removed > 0 {
		logger.Info("reaper swept expired sessions", "removed", removed, "duration_ms", elapsed.Milliseconds())
	}
	if r.onSweep != nil {
		r.onSweep(removed, elapsed)
	}
}
