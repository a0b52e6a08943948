package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(" info "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(""))
	assert.Equal(t, slog.LevelWarn, ParseLevel("loud"))
}

func TestNew_LevelFromEnv(t *testing.T) {
	t.Setenv(LevelEnv, "info")
	var buf bytes.Buffer
	l := New(&buf)
	l.Debug("hidden")
	l.Info("shown", "task_id", "task-1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "task_id=task-1")
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
	l.Error("dropped")
}
