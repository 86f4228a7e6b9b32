package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func newTestLogger(t *testing.T, out *bytes.Buffer) *Logger {
	t.Helper()
	l, err := New(Config{
		ServiceName:    "observability-demo",
		ServiceVersion: "1.0.0",
		ConsoleLevel:   "info",
		Console:        out,
	})
	require.NoError(t, err)
	return l
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := make(map[string]any)
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogEnrichesEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf)

	l.Log(zapcore.InfoLevel, "Incoming request", map[string]any{
		"method": "GET",
		"level":  "ignored",
	})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]

	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "app", e["logger_name"])
	assert.Equal(t, "Incoming request", e["message"])
	assert.Equal(t, "observability-demo", e["service_name"])
	assert.Equal(t, "1.0.0", e["service_version"])
	assert.Equal(t, "GET", e["method"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, e["timestamp"])
}

func TestLogKeepsUpstreamTimestamp(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf)

	l.Log(zapcore.InfoLevel, "from string", map[string]any{"timestamp": "2020-01-01T00:00:00.000Z"})
	l.Log(zapcore.InfoLevel, "from time", map[string]any{
		"timestamp": time.Date(2021, 6, 15, 12, 30, 45, 123_000_000, time.UTC),
	})
	l.Log(zapcore.InfoLevel, "unparseable", map[string]any{"timestamp": "yesterday"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "2020-01-01T00:00:00.000Z", entries[0]["timestamp"])
	assert.Equal(t, "2021-06-15T12:30:45.123Z", entries[1]["timestamp"])
	assert.NotEqual(t, "yesterday", entries[2]["timestamp"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, entries[2]["timestamp"])
}

func TestLevelNames(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf)

	l.Zap().Warn("client error")
	l.Zap().Error("server error")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARNING", entries[0]["level"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestConsoleThresholdCanChange(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf)

	l.Zap().Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, l.SetConsoleLevel("debug"))
	l.Zap().Debug("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, zapcore.DebugLevel, l.ConsoleLevel())

	assert.Error(t, l.SetConsoleLevel("verbose"))
}

func TestSinkFailureIsCountedNotPropagated(t *testing.T) {
	l, err := New(Config{
		ServiceName:    "svc",
		ServiceVersion: "1",
		ConsoleLevel:   "info",
		Console:        failingWriter{},
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.Zap().Info("first")
		l.Zap().Info("second")
	})

	assert.Equal(t, uint64(2), l.SinkErrors()[SinkConsole])
	assert.Equal(t, 2.0, testutil.ToFloat64(l.Collector()))
}

func TestFileSinkHasItsOwnThreshold(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l, err := New(Config{
		ServiceName:    "svc",
		ServiceVersion: "1",
		ConsoleLevel:   "info",
		Console:        &buf,
		FilePath:       path,
		FileLevel:      "debug",
		FileMaxSizeMB:  10,
		FileMaxBackups: 5,
	})
	require.NoError(t, err)

	l.Zap().Debug("file only")
	require.NoError(t, l.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
	assert.NotContains(t, buf.String(), "file only")
	assert.Equal(t, uint64(0), l.SinkErrors()[SinkFile])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestDevelopmentLoggerPanicsOnDPanic(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{ServiceName: "svc", ServiceVersion: "1", Console: &buf, Development: true})
	require.NoError(t, err)

	assert.Panics(t, func() { l.Zap().DPanic("label schema mismatch") })
}
