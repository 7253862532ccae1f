package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Masterminds/semver/v3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/turnbridge/turnbridge/adminauth"
	"github.com/turnbridge/turnbridge/config"
	"github.com/turnbridge/turnbridge/httpapi"
	"github.com/turnbridge/turnbridge/logger"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/ratelimit"
	"github.com/turnbridge/turnbridge/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the turnbridge HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("reading --config: %w", err)
	}

	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := settings.LogLevel
	if cmd.Flags().Changed("log-level") {
		if flagLevel, err := cmd.Flags().GetString("log-level"); err == nil {
			level = flagLevel
		}
	}
	if err := logger.Configure(&logger.LoggingConfigSpec{DefaultLevel: level, Format: settings.LogFormat}); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	reg := registry.New(registry.Options{
		MaxSessions:      settings.MaxSessions,
		HandshakeTimeout: settings.HandshakeTimeout(),
		TurnTimeout:      settings.TurnTimeout(),
	})
	reaper := registry.NewReaper(reg, settings.SessionTTL(), settings.CleanupInterval())

	opts := []httpapi.Option{
		httpapi.WithHost(settings.Host),
		httpapi.WithPort(settings.Port),
		httpapi.WithMaxBodySize(settings.MaxPayloadSize),
	}

	if settings.RateLimitPerMinute > 0 {
		limiter, err := buildLimiter(settings)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithRateLimiter(limiter))
	}

	if settings.AdminAuthEnabled {
		if settings.AdminTokenSigningKey == "" {
			return fmt.Errorf("admin_auth_enabled is true but admin_token_signing_key is empty")
		}
		issuer := adminauth.NewIssuer([]byte(settings.AdminTokenSigningKey), settings.AdminTokenTTL)
		opts = append(opts, httpapi.WithAdminAuth(issuer))
	}

	if settings.MinClientVersion != "" {
		constraint, err := semver.NewConstraint(settings.MinClientVersion)
		if err != nil {
			return fmt.Errorf("parsing min_client_version %q: %w", settings.MinClientVersion, err)
		}
		opts = append(opts, httpapi.WithMinClientVersion(constraint))
	}

	if settings.MetricsAddr != "" {
		exporter := metrics.NewExporter(settings.MetricsAddr)
		opts = append(opts, httpapi.WithMetricsExporter(exporter))
	}

	srv := httpapi.NewServer(reg, reaper, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}

func buildLimiter(settings *config.Settings) (ratelimit.Limiter, error) {
	if settings.RedisAddr == "" {
		return ratelimit.NewLocal(settings.RateLimitPerMinute, settings.RateLimitBurst), nil
	}
	client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	return ratelimit.NewRedis(client, int64(settings.RateLimitPerMinute)), nil
}
