package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process-wide structured logger: JSON on stdout with
// source locations, at the level named by LOG_LEVEL.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// parseLevel is forgiving about casing and accepts both "warn" and "warning".
// Anything unrecognized falls back to info rather than failing startup.
func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
