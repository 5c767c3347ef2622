package app

import (
	"io"
	"log/slog"
)

// newLogger builds the slog logger for one pipeline invocation from the
// --log-level and --log-format flags. The instance is returned rather than
// installed as the process default, so embedded runs and tests keep isolated
// loggers.
func newLogger(level, format string, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// parseLevel maps a --log-level value to its slog level. Unrecognized values
// fall back to info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
