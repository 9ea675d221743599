// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the message processor.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format specifies the output format: "json" or "text". JSON is the
	// production default; text reads better during development.
	Format string `yaml:"format"`

	// Output is the writer for log records (defaults to os.Stderr).
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source"`
}

// NewLogger creates a structured logger from the configuration.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(handler)
}

// MessageLogger returns a logger with the correlation fields every
// processor log record carries.
func MessageLogger(logger *slog.Logger, sessionID, messageID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("session_id", sessionID, "message_id", messageID)
}
