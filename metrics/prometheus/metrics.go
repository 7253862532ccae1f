// Package prometheus provides Prometheus metrics exporters for the
// turnbridge rendezvous proxy.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "turnbridge"

// Status label values shared across counters below.
const (
	StatusSuccess   = "success"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
	StatusClosed    = "closed"
)

// Eviction reason label values.
const (
	ReasonTTL      = "ttl"
	ReasonExplicit = "explicit"
)

var (
	// sessionsActive is a gauge of sessions currently tracked by the registry.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently tracked by the registry",
		},
	)

	// sessionsCreatedTotal is a counter of sessions ever created.
	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
	)

	// sessionsEvictedTotal is a counter of sessions removed, labeled by reason.
	sessionsEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions evicted, by reason",
		},
		[]string{"reason"}, // ttl, explicit
	)

	// registryRejectedTotal counts GetOrCreate calls rejected for capacity.
	registryRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_rejected_total",
			Help:      "Total number of session creations rejected because the registry was at capacity",
		},
	)

	// handshakeDuration is a histogram of how long side A waited for side B.
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration side A waited during the handshake, in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"}, // success, timeout, cancelled, closed
	)

	// turnDuration is a histogram of how long a turn wait took.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration a caller waited for its counterpart's turn, in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"side", "status"}, // side: A, B; status: success, timeout, cancelled, closed
	)

	// turnsTotal counts completed ProcessRequest calls by outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turn exchanges, by side and outcome",
		},
		[]string{"side", "status"},
	)

	// reaperSweepDuration is a histogram of TTL sweep durations.
	reaperSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of a reaper sweep over the registry, in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// reaperSweepRemovedTotal counts sessions removed across all sweeps.
	reaperSweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_removed_total",
			Help:      "Total number of sessions removed by reaper sweeps",
		},
	)

	// rateLimitRejectedTotal counts requests rejected by the rate limiter.
	rateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"protocol"}, // openai, anthropic
	)

	// allMetrics is the list of metrics registered by NewExporter.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsCreatedTotal,
		sessionsEvictedTotal,
		registryRejectedTotal,
		handshakeDuration,
		turnDuration,
		turnsTotal,
		reaperSweepDuration,
		reaperSweepRemovedTotal,
		rateLimitRejectedTotal,
	}
)

// RecordSessionCreated records a new session materializing in the registry.
func RecordSessionCreated() {
	sessionsCreatedTotal.Inc()
	sessionsActive.Inc()
}

// RecordSessionEvicted records a session being removed, by reason.
func RecordSessionEvicted(reason string) {
	sessionsEvictedTotal.WithLabelValues(reason).Inc()
	sessionsActive.Dec()
}

// RecordRegistryRejected records a GetOrCreate call rejected for capacity.
func RecordRegistryRejected() {
	registryRejectedTotal.Inc()
}

// RecordHandshake records the outcome and duration of side A's handshake wait.
func RecordHandshake(status string, durationSeconds float64) {
	handshakeDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordTurn records the outcome and duration of one ProcessRequest call.
func RecordTurn(side, status string, durationSeconds float64) {
	turnDuration.WithLabelValues(side, status).Observe(durationSeconds)
	turnsTotal.WithLabelValues(side, status).Inc()
}

// RecordReaperSweep records one reaper sweep's duration and removal count.
func RecordReaperSweep(removed int, durationSeconds float64) {
	reaperSweepDuration.Observe(durationSeconds)
	if removed > 0 {
		reaperSweepRemovedTotal.Add(float64(removed))
	}
}

// RecordRateLimitRejected records a request rejected by the rate limiter.
func RecordRateLimitRejected(protocol string) {
	rateLimitRejectedTotal.WithLabelValues(protocol).Inc()
}

// SetSessionsActive sets the sessions_active gauge directly, for callers
// (such as the Reaper after each sweep, using the registry's Count) that
// want to reconcile the gauge with ground truth rather than rely solely on
// increment/decrement pairing.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}
