package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
)

var ErrOTLPEndpointRequired = errors.New("OTLP log endpoint is required when enabled")

const maxAttributeValueLength = 4096

// OTLPConfig configures the remote collector sink.
type OTLPConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	ExportTimeout  time.Duration
}

// OTelWriter turns encoded JSON log lines into OpenTelemetry log records.
// The logger_name field selects the instrumentation scope.
type OTelWriter struct {
	provider *sdklog.LoggerProvider
	loggers  map[string]otellog.Logger
	mu       sync.Mutex
}

// NewOTelWriter creates a writer exporting over OTLP/gRPC through a batch
// processor. The connection is established lazily.
func NewOTelWriter(ctx context.Context, cfg OTLPConfig) (*OTelWriter, error) {
	if cfg.Endpoint == "" {
		return nil, ErrOTLPEndpointRequired
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	timeout := cfg.ExportTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	processor := sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(timeout))
	return newOTelWriter(processor, res), nil
}

func newOTelWriter(processor sdklog.Processor, res *resource.Resource) *OTelWriter {
	opts := []sdklog.LoggerProviderOption{sdklog.WithProcessor(processor)}
	if res != nil {
		opts = append(opts, sdklog.WithResource(res))
	}
	return &OTelWriter{
		provider: sdklog.NewLoggerProvider(opts...),
		loggers:  make(map[string]otellog.Logger),
	}
}

// Write emits one JSON encoded entry. Lines that are not JSON objects are
// reported as errors so the sink counts them.
func (w *OTelWriter) Write(p []byte) (int, error) {
	entry := make(map[string]any)
	if err := json.Unmarshal(p, &entry); err != nil {
		return 0, fmt.Errorf("decode log entry: %w", err)
	}

	var record otellog.Record

	if ts, ok := entry[timestampKey].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			record.SetTimestamp(parsed)
			delete(entry, timestampKey)
		}
	}
	record.SetObservedTimestamp(time.Now())

	if level, ok := entry[levelKey].(string); ok {
		record.SetSeverity(severityOf(level))
		record.SetSeverityText(level)
		delete(entry, levelKey)
	}

	if msg, ok := entry[messageKey].(string); ok {
		record.SetBody(otellog.StringValue(msg))
		delete(entry, messageKey)
	}

	scope := loggerName
	if name, ok := entry[nameKey].(string); ok && name != "" {
		scope = name
		delete(entry, nameKey)
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.AddAttributes(attribute(k, entry[k]))
	}

	w.logger(scope).Emit(context.Background(), record)
	return len(p), nil
}

// Sync flushes buffered records.
func (w *OTelWriter) Sync() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter.
func (w *OTelWriter) Shutdown(ctx context.Context) error {
	return w.provider.Shutdown(ctx)
}

func (w *OTelWriter) logger(scope string) otellog.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.loggers[scope]
	if !ok {
		l = w.provider.Logger(scope)
		w.loggers[scope] = l
	}
	return l
}

func attribute(key string, value any) otellog.KeyValue {
	switch v := value.(type) {
	case nil:
		return otellog.String(key, "null")
	case string:
		return otellog.String(key, truncate(v))
	case bool:
		return otellog.Bool(key, v)
	case float64:
		if v == float64(int64(v)) {
			return otellog.Int64(key, int64(v))
		}
		return otellog.Float64(key, v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return otellog.String(key, truncate(string(b)))
		}
		return otellog.String(key, truncate(fmt.Sprintf("%v", v)))
	}
}

func truncate(s string) string {
	if len(s) <= maxAttributeValueLength {
		return s
	}
	return strings.ToValidUTF8(s[:maxAttributeValueLength-3], "") + "..."
}

func severityOf(level string) otellog.Severity {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return otellog.SeverityDebug
	case "INFO":
		return otellog.SeverityInfo
	case "WARNING", "WARN":
		return otellog.SeverityWarn
	case "ERROR":
		return otellog.SeverityError
	case "CRITICAL":
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}
