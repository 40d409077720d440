package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger. Development gets human readable text,
// everything else gets JSON so log shippers can parse it.
func New(env, level string) *slog.Logger {
	return newWithWriter(os.Stdout, env, level)
}

// Setup builds the logger and installs it as the slog default.
func Setup(env, level string) *slog.Logger {
	l := New(env, level)
	slog.SetDefault(l)
	return l
}

func newWithWriter(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if env == "development" || env == "test" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "chat-relay")
}

func ParseLevel(level string) slog.Level {
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
