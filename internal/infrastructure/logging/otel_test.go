package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func attributesOf(r *sdklog.Record) map[string]otellog.Value {
	out := make(map[string]otellog.Value)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestOTelWriterConvertsEncodedEntries(t *testing.T) {
	exp := &recordingExporter{}
	w := newOTelWriter(sdklog.NewSimpleProcessor(exp), nil)

	core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	logger := zap.New(core).Named(loggerName)

	logger.Warn("Request completed",
		zap.Int("status_code", 404),
		zap.String("path", "/users/9999"),
		zap.Float64("duration_ms", 1.5),
	)

	require.Len(t, exp.records, 1)
	r := &exp.records[0]

	assert.Equal(t, "Request completed", r.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, r.Severity())
	assert.Equal(t, "WARNING", r.SeverityText())
	assert.Equal(t, loggerName, r.InstrumentationScope().Name)
	assert.False(t, r.Timestamp().IsZero())

	attrs := attributesOf(r)
	assert.Equal(t, int64(404), attrs["status_code"].AsInt64())
	assert.Equal(t, "/users/9999", attrs["path"].AsString())
	assert.Equal(t, 1.5, attrs["duration_ms"].AsFloat64())
	assert.NotContains(t, attrs, "message")
	assert.NotContains(t, attrs, "level")
}

func TestOTelWriterRejectsNonJSON(t *testing.T) {
	exp := &recordingExporter{}
	w := newOTelWriter(sdklog.NewSimpleProcessor(exp), nil)

	_, err := w.Write([]byte("not json"))
	assert.Error(t, err)
	assert.Empty(t, exp.records)

	sink := newCountingSyncer(SinkOTLP, w)
	n, err := sink.Write([]byte("still not json"))
	assert.NoError(t, err)
	assert.Equal(t, len("still not json"), n)
	assert.Equal(t, uint64(1), sink.Failures())
}

func TestNewOTelWriterRequiresEndpoint(t *testing.T) {
	_, err := NewOTelWriter(context.Background(), OTLPConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrOTLPEndpointRequired)
}
