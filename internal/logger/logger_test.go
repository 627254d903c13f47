package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

//nolint:paralleltest // Mutates the process-wide logger
func TestInitializeSharesCore(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := Initialize(WithWriter(&buf), WithLevel(zapcore.InfoLevel))

	l.Info("Lock acquired", "unit_id", "page_003.jpg")
	slog.Debug("hidden")
	Infof("Applying %d migrations", 4)
	Warnw("Profile paused", "profile_id", "gemini-1")
	Debugf("hidden %s", "too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "Lock acquired", lines[0]["msg"])
	assert.Equal(t, "page_003.jpg", lines[0]["unit_id"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "Applying 4 migrations", lines[1]["msg"])
	assert.Equal(t, "warn", lines[2]["level"])
	assert.Equal(t, "gemini-1", lines[2]["profile_id"])
}

//nolint:paralleltest // Mutates the process-wide logger
func TestTraceHandlerInjectsIDs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := Initialize(WithWriter(&buf))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.InfoContext(ctx, "traced")
	l.With("component", "sweeper").InfoContext(context.Background(), "untraced")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, traceID.String(), lines[0]["trace_id"])
	assert.Equal(t, spanID.String(), lines[0]["span_id"])
	assert.NotContains(t, lines[1], "trace_id")
	assert.Equal(t, "sweeper", lines[1]["component"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   zapcore.Level
		wantOK bool
	}{
		{"debug", zapcore.DebugLevel, true},
		{"INFO", zapcore.InfoLevel, true},
		{"", zapcore.InfoLevel, true},
		{"warning", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"loud", zapcore.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
	}
}

//nolint:paralleltest // Uses t.Setenv
func TestLevelFromEnv(t *testing.T) {
	t.Setenv("OCR_COORD_LOG_LEVEL", "debug")
	assert.Equal(t, zapcore.DebugLevel, LevelFromEnv("OCR_COORD"))

	t.Setenv("OCR_COORD_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, zapcore.ErrorLevel, LevelFromEnv("OCR_COORD"))
}
