// Package httpapi wires the rendezvous Registry and Reaper into an HTTP
// server: the OpenAI and Anthropic chat endpoints, the admin surface, and
// the ambient middleware (rate limiting, admin auth, version gating,
// tracing) that sits in front of them.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/turnbridge/turnbridge/adminauth"
	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/ratelimit"
	"github.com/turnbridge/turnbridge/registry"
)

const (
	defaultReadTimeout        = 30 * time.Second
	defaultWriteTimeout       = 5 * time.Minute // turns may legitimately wait out a long turnTimeout
	defaultIdleTimeout        = 120 * time.Second
	defaultAdminStreamTick    = 500 * time.Millisecond
	defaultRateLimitSweepTick = time.Minute
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithPort sets the TCP port the Server listens on. Default 8080.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithHost sets the interface the Server binds to. Default "0.0.0.0".
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithMaxBodySize caps the size of an inbound chat request body, in
// bytes. 0 (the default) disables the cap.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithReadTimeout overrides the HTTP server's read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout overrides the HTTP server's write timeout. This must
// exceed the Registry's configured turnTimeout or long-waiting turns will
// be cut off by the transport before Session.ProcessRequest ever returns.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithRateLimiter installs a ratelimit.Limiter in front of both chat
// endpoints. Without this option, requests are never throttled.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.rateLimiter = l }
}

// WithAdminAuth requires a valid bearer token, issued and verified by
// issuer, on every /admin/* route. Without this option, the admin
// surface is unauthenticated — suitable only for a deployment where it
// is not exposed beyond a trusted network.
func WithAdminAuth(issuer *adminauth.Issuer) Option {
	return func(s *Server) { s.adminAuth = issuer }
}

// WithMinClientVersion rejects requests whose X-Turnbridge-Client header
// fails to satisfy constraint with a 426 Upgrade Required.
func WithMinClientVersion(constraint *semver.Constraints) Option {
	return func(s *Server) { s.minClientVersion = constraint }
}

// WithMetricsExporter installs a metrics exporter. If exporter was built
// with the same address the Server itself listens on, /metrics is mounted
// on the shared mux; otherwise Run starts the exporter on its own
// listener and drains it on shutdown alongside everything else.
func WithMetricsExporter(exporter *metrics.Exporter) Option {
	return func(s *Server) { s.metricsExporter = exporter }
}

// Server is the rendezvous proxy's HTTP front end: the chat endpoints,
// the admin surface, and the Reaper that keeps the bound Registry from
// growing without bound, composed behind one graceful-shutdown path.
type Server struct {
	registry *registry.Registry
	reaper   *registry.Reaper

	host string
	port int

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBodySize  int64

	rateLimiter      ratelimit.Limiter
	adminAuth        *adminauth.Issuer
	minClientVersion *semver.Constraints
	metricsExporter  *metrics.Exporter

	httpSrv *http.Server
}

// NewServer creates a Server bound to reg, sweeping reg with reaper for
// the lifetime of Run. reaper may be nil, in which case sessions are
// never evicted by idle age.
func NewServer(reg *registry.Registry, reaper *registry.Reaper, opts ...Option) *Server {
	s := &Server{
		registry:     reg,
		reaper:       reaper,
		host:         "0.0.0.0",
		port:         8080,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the complete routed, middleware-wrapped http.Handler.
// Exposed separately from Run so tests can exercise routes with
// httptest.NewServer without binding a real port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	chatHandler := NewChatCompletionsHandler(s.registry, s.maxBodySize)
	anthropicHandler := NewAnthropicMessagesHandler(s.registry, s.maxBodySize)

	mux.Handle("/v1/chat/completions", s.wrapChat(chatHandler, "openai"))
	mux.Handle("/v1/messages", s.wrapChat(anthropicHandler, "anthropic"))

	mux.HandleFunc("/health", HealthHandler)

	mux.Handle("/admin/sessions", s.wrapAdmin(NewAdminSessionsHandler(s.registry)))
	mux.Handle("/admin/sessions/stream", s.wrapAdmin(NewAdminSessionsStreamHandler(s.registry, defaultAdminStreamTick)))

	if s.metricsShared() {
		mux.Handle("/metrics", s.metricsExporter.Handler())
	}

	return otelhttp.NewHandler(mux, "turnbridge")
}

// metricsShared reports whether the configured metrics exporter shares
// the API's own listener, rather than binding its own (SPEC_FULL.md §6).
func (s *Server) metricsShared() bool {
	return s.metricsExporter != nil && s.metricsExporter.Addr() == s.addr()
}

// wrapChat applies the chat-endpoint middleware stack (version gate,
// rate limit) in front of h.
func (s *Server) wrapChat(h http.Handler, protocol string) http.Handler {
	if s.rateLimiter != nil {
		h = rateLimitMiddleware(s.rateLimiter, protocol)(h)
	}
	if s.minClientVersion != nil {
		h = versionGate(s.minClientVersion)(h)
	}
	return h
}

// wrapAdmin applies the admin-only middleware stack (bearer auth) in
// front of h.
func (s *Server) wrapAdmin(h http.Handler) http.Handler {
	if s.adminAuth != nil {
		return s.adminAuth.Middleware(h)
	}
	return h
}

// Run starts the HTTP server and the Reaper together, returning when
// either exits or ctx is cancelled. On cancellation it shuts the HTTP
// server down gracefully before returning.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if s.reaper == nil {
			<-groupCtx.Done()
			return nil
		}
		return s.reaper.Run(groupCtx)
	})

	if sweeper, ok := s.rateLimiter.(ratelimit.Sweepable); ok {
		group.Go(func() error {
			sweeper.RunSweeper(groupCtx, defaultRateLimitSweepTick)
			return nil
		})
	}

	if s.metricsExporter != nil && !s.metricsShared() {
		group.Go(func() error {
			logger.Info("metrics exporter listening", "addr", s.metricsExporter.Addr())
			err := s.metricsExporter.Start()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.metricsExporter.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		logger.Info("turnbridge server listening", "addr", s.addr())
		err := s.httpSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// Shutdown gracefully stops the HTTP server and, if it owns a separate
// listener, the metrics exporter. Safe to call only after Run has been
// invoked.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.metricsExporter != nil && !s.metricsShared() {
		return s.metricsExporter.Shutdown(ctx)
	}
	return nil
}

func (s *Server) addr() string {
	port := s.port
	if port <= 0 {
		port = 8080
	}
	return s.host + ":" + strconv.Itoa(port)
}
