package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/ratelimit"
)

// rateLimitKey names the Limiter key for a given request: the caller's IP,
// with the ephemeral TCP port stripped so reconnecting clients share one
// bucket instead of each connection getting its own.
func rateLimitKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

// rateLimitMiddleware rejects with 429 once limiter's ceiling for the
// caller's key is exceeded. It is meant to wrap only the chat endpoints —
// /health and /metrics are registered outside it.
func rateLimitMiddleware(limiter ratelimit.Limiter, protocol string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), rateLimitKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable, failing open", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				metrics.RecordRateLimitRejected(protocol)
				w.Header().Set("Retry-After", formatRetryAfter(decision.RetryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", ErrTypeRateLimit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func formatRetryAfter(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// versionGate rejects requests carrying an X-Turnbridge-Client header
// whose semver value doesn't satisfy minVersion, so the server can retire
// protocol quirks without breaking callers silently (SPEC_FULL.md §4.6
// "(added)"). Callers that omit the header are passed through untouched —
// the gate only rejects clients that identify themselves as too old.
func versionGate(minVersion *semver.Constraints) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("X-Turnbridge-Client")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			version, err := semver.NewVersion(header)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed X-Turnbridge-Client version", ErrTypeInvalidRequest)
				return
			}
			if !minVersion.Check(version) {
				writeError(w, http.StatusUpgradeRequired, "client version no longer supported", ErrTypeUpgradeRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
