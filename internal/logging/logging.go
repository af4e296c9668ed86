// Package logging provides structured logging for ntuple jobs.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("tree")
//	log.Info("tree initialized", "branches", 42)
//
//	// Log with context
//	log.Warn("fill failed", "error", err, "tree", name)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("scheduler")
//	log.Info("started") // Output: time=... level=INFO component=scheduler msg=started
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// WithContext returns a logger that includes context values.
// This is useful for job-scoped logging of sample, systematic and event.
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}

	// Extract common context values if present
	logger := Logger

	if sample, ok := ctx.Value(contextKeySample).(string); ok {
		logger = logger.With("sample", sample)
	}
	if systematic, ok := ctx.Value(contextKeySystematic).(string); ok {
		logger = logger.With("systematic", systematic)
	}
	if event, ok := ctx.Value(contextKeyEvent).(uint64); ok {
		logger = logger.With("event", event)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeySample contextKey = iota
	contextKeySystematic
	contextKeyEvent
)

// ContextWithSample adds a sample name to the context for logging.
func ContextWithSample(ctx context.Context, sample string) context.Context {
	return context.WithValue(ctx, contextKeySample, sample)
}

// ContextWithSystematic adds a systematic name to the context for logging.
func ContextWithSystematic(ctx context.Context, systematic string) context.Context {
	return context.WithValue(ctx, contextKeySystematic, systematic)
}

// ContextWithEvent adds an event number to the context for logging.
func ContextWithEvent(ctx context.Context, event uint64) context.Context {
	return context.WithValue(ctx, contextKeyEvent, event)
}

// ParseLevel maps a config level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	switch name {
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

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Error(msg, args...)
}
