// Package config loads turnbridge's runtime settings from defaults, a YAML
// file, and environment variables (prefixed TURNBRIDGE_), in that order of
// increasing precedence. Command-line flags are not read here.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds every tunable named in SPEC_FULL.md's configuration
// table, plus the additions for rate limiting, admin auth, and the
// client-version gate.
type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	HandshakeTimeoutSeconds float64 `mapstructure:"handshake_timeout_seconds"`
	TurnTimeoutSeconds      float64 `mapstructure:"turn_timeout_seconds"`
	SessionTTLSeconds       float64 `mapstructure:"session_ttl_seconds"`
	CleanupIntervalSeconds  float64 `mapstructure:"cleanup_interval_seconds"`
	MaxSessions             int     `mapstructure:"max_sessions"`
	MaxPayloadSize          int64   `mapstructure:"max_payload_size"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	RateLimitPerMinute float64 `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
	RedisAddr          string  `mapstructure:"redis_addr"`

	AdminAuthEnabled     bool          `mapstructure:"admin_auth_enabled"`
	AdminTokenSigningKey string        `mapstructure:"admin_token_signing_key"`
	AdminTokenTTL        time.Duration `mapstructure:"admin_token_ttl"`

	MinClientVersion string `mapstructure:"min_client_version"`
}

// defaults mirrors the original source's settings.py field-for-field,
// extended with turnbridge's own additions.
func defaults() Settings {
	return Settings{
		Host:                    "0.0.0.0",
		Port:                    8000,
		HandshakeTimeoutSeconds: 30,
		TurnTimeoutSeconds:      30,
		SessionTTLSeconds:       3600,
		CleanupIntervalSeconds:  60,
		MaxSessions:             100,
		MaxPayloadSize:          1024 * 1024,
		LogLevel:                "info",
		LogFormat:               "text",
		MetricsAddr:             ":9090",
		RateLimitPerMinute:      0, // 0 disables rate limiting
		RateLimitBurst:          5,
		AdminTokenTTL:           time.Hour,
		MinClientVersion:        ">=0.0.0",
	}
}

// Load reads settings from configFile (if non-empty and present), then
// overlays TURNBRIDGE_-prefixed environment variables. configFile may be
// empty — a missing or absent file is not an error, since every field
// has a default.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	d := defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("handshake_timeout_seconds", d.HandshakeTimeoutSeconds)
	v.SetDefault("turn_timeout_seconds", d.TurnTimeoutSeconds)
	v.SetDefault("session_ttl_seconds", d.SessionTTLSeconds)
	v.SetDefault("cleanup_interval_seconds", d.CleanupIntervalSeconds)
	v.SetDefault("max_sessions", d.MaxSessions)
	v.SetDefault("max_payload_size", d.MaxPayloadSize)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("rate_limit_per_minute", d.RateLimitPerMinute)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("admin_token_ttl", d.AdminTokenTTL)
	v.SetDefault("min_client_version", d.MinClientVersion)

	v.SetEnvPrefix("turnbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &s, nil
}

// HandshakeTimeout returns HandshakeTimeoutSeconds as a time.Duration.
func (s *Settings) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSeconds * float64(time.Second))
}

// TurnTimeout returns TurnTimeoutSeconds as a time.Duration.
func (s *Settings) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTimeoutSeconds * float64(time.Second))
}

// SessionTTL returns SessionTTLSeconds as a time.Duration.
func (s *Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionTTLSeconds * float64(time.Second))
}

// CleanupInterval returns CleanupIntervalSeconds as a time.Duration.
func (s *Settings) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds * float64(time.Second))
}
