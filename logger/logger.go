// Package logger provides structured logging and a redaction helper.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Rendezvous event logging (handshakes, turns, evictions)
//   - Bearer-token and API-key redaction via RedactSensitiveData (log
//     records are not redacted unless a caller applies it)
//   - Contextual logging with request tracing
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where the default handler writes. Tests swap it for a
	// buffer; Configure never changes it.
	logOutput io.Writer = os.Stderr

	// customHandler, once set via SetLogger, is preserved across SetLevel
	// and Configure calls instead of being replaced by the default handler.
	customHandler slog.Handler
)

func init() {
	DefaultLogger = slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: ParseLevel(os.Getenv("LOG_LEVEL"))}))
}

// ParseLevel parses a level name ("debug", "info", "warn"/"warning", "error")
// into a slog.Level, defaulting to LevelInfo for an empty or unknown string.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
// If a custom handler was installed via SetLogger, it is preserved and only
// its minimum level is not altered — callers that need level control with a
// custom handler must build that into the handler itself.
func SetLevel(level slog.Level) {
	if customHandler != nil {
		DefaultLogger = slog.New(customHandler)
		return
	}
	handler := slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetLogger installs a custom slog.Handler as the backing handler for all
// package-level logging functions. Passing nil reverts to the default
// text handler at LevelInfo.
func SetLogger(handler slog.Handler) {
	customHandler = handler
	if handler == nil {
		DefaultLogger = slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))
		slog.SetDefault(DefaultLogger)
		return
	}
	DefaultLogger = slog.New(handler)
	slog.SetDefault(DefaultLogger)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// The context can be used for request tracing and cancellation.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// Handshake logs the establishment of side A's presence on a session — the
// first request ever seen for a given id.
func Handshake(sessionID string, attrs ...any) {
	allAttrs := make([]any, 0, 2+len(attrs))
	allAttrs = append(allAttrs, "session_id", sessionID)
	allAttrs = append(allAttrs, attrs...)
	Info("handshake established", allAttrs...)
}

// Turn logs one completed turn exchange: the side that sent content and how
// long it waited for a counterpart before this call, if known.
func Turn(sessionID string, side string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs, "session_id", sessionID, "side", side)
	allAttrs = append(allAttrs, attrs...)
	Info("turn exchanged", allAttrs...)
}

// Eviction logs the removal of a session from the registry, whether by TTL
// sweep or explicit close.
func Eviction(sessionID, reason string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs, "session_id", sessionID, "reason", reason)
	allAttrs = append(allAttrs, attrs...)
	Info("session evicted", allAttrs...)
}

var (
	// sensitivePatterns contains compiled regular expressions for detecting
	// sensitive data such as bearer tokens and admin signing material.
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_\-.]+`),    // bearer tokens (incl. JWTs)
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),          // API-key shaped secrets
		regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), // bare JWTs
	}
)

// RedactSensitiveData removes bearer tokens and other sensitive information
// from strings before they reach a log line. It replaces matched patterns
// with a redacted form that preserves the first few characters for
// debugging while hiding the sensitive portion.
//
// This function is safe for concurrent use as it only reads from the
// compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
