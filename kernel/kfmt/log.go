package kfmt

import (
	"strings"

	"golang.org/x/exp/slog"
)

// logLevel is shared by every logger returned by Logger so that the level can
// be changed after the loggers have been created.
var logLevel = new(slog.LevelVar)

// SetLogLevel sets the minimum level for all module loggers.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to
// slog.LevelInfo.
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

// Logger returns a structured logger that writes to the active output sink
// and tags every record with the module name.
func Logger(module string) *slog.Logger {
	handler := slog.NewTextHandler(consoleWriter{}, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler).With("module", module)
}
