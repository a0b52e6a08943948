// Package logger builds the slog loggers used by the commands and the
// library packages.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelEnv selects the minimum level: debug, info, warn or error.
const LevelEnv = "AGENTINTEROP_LOG_LEVEL"

// New returns a text logger writing to w at the level named by LevelEnv,
// or warn when unset. Agent processes must pass stderr: stdout carries
// the protocol.
func New(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv(LevelEnv)),
	}))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to warn.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
