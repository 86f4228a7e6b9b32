package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrSpanClosed = errors.New("span closed")

const instrumentationName = "observability-demo/http"

// TracerConfig configures span creation and export.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Exporter       string
	Endpoint       string
	Insecure       bool
	StdoutWriter   io.Writer
	BreakerTimeout time.Duration

	SampleRate    float64
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ExportTimeout time.Duration
}

// Tracer creates spans and hands ended spans to a BatchSpanProcessor.
type Tracer struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	processor  *BatchSpanProcessor
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
}

// NewTracer creates a tracer exporting through exporter. The tracer does not
// install itself as the global provider.
func NewTracer(cfg TracerConfig, exporter sdktrace.SpanExporter, logger *zap.Logger) (*Tracer, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	processor := NewBatchSpanProcessor(exporter, BatchOptions{
		QueueSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		ExportTimeout: cfg.ExportTimeout,
	}, logger)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SampleRate)),
		sdktrace.WithSpanProcessor(processor),
	)

	return &Tracer{
		provider:   provider,
		tracer:     provider.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		processor:  processor,
		propagator: newPropagator(),
		logger:     logger,
	}, nil
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

type spanContextKey struct{}

// StartSpan starts a span whose parent is the span or remote span context
// carried by ctx. Without one a new trace is started.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	parent := trace.SpanContextFromContext(ctx)

	ctx, otelSpan := t.tracer.Start(ctx, name, opts...)
	s := &Span{
		span:   otelSpan,
		parent: parent,
		name:   name,
		start:  time.Now(),
		logger: t.logger,
	}
	return context.WithValue(ctx, spanContextKey{}, s), s
}

// SpanFromContext returns the span started by StartSpan, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanContextKey{}).(*Span)
	return s
}

// Stats reports the export queue counters.
func (t *Tracer) Stats() ProcessorStats {
	return t.processor.Stats()
}

// ForceFlush exports all ended spans.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Span is a request-owned span. Mutations after End fail with ErrSpanClosed.
type Span struct {
	span   trace.Span
	parent trace.SpanContext
	logger *zap.Logger

	mu    sync.Mutex
	name  string
	start time.Time
	end   time.Time
	ended bool
}

func (s *Span) mutate(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("%w: %s", ErrSpanClosed, s.name)
	}
	fn()
	return nil
}

// SetAttribute sets one attribute.
func (s *Span) SetAttribute(key string, value any) error {
	return s.mutate(func() {
		s.span.SetAttributes(toAttribute(key, value))
	})
}

// AddEvent appends a timestamped event.
func (s *Span) AddEvent(name string, attrs map[string]any) error {
	return s.mutate(func() {
		kvs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kvs = append(kvs, toAttribute(k, v))
		}
		s.span.AddEvent(name, trace.WithAttributes(kvs...))
	})
}

// SetName renames the span.
func (s *Span) SetName(name string) error {
	return s.mutate(func() {
		s.name = name
		s.span.SetName(name)
	})
}

// RecordError records err as an exception event and marks the span failed.
func (s *Span) RecordError(err error) error {
	return s.mutate(func() {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	})
}

// SetStatus sets the span status to ok or error.
func (s *Span) SetStatus(ok bool, description string) error {
	return s.mutate(func() {
		if ok {
			s.span.SetStatus(codes.Ok, "")
			return
		}
		s.span.SetStatus(codes.Error, description)
	})
}

// End closes the span. Only the first call has an effect.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.logger.Warn("Span already ended",
			zap.String("span_name", s.name),
			zap.String("span_id", s.SpanID()),
		)
		return
	}
	s.ended = true
	s.end = time.Now()
	end := s.end
	s.mu.Unlock()

	s.span.End(trace.WithTimestamp(end))
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Span) TraceID() string { return s.span.SpanContext().TraceID().String() }
func (s *Span) SpanID() string  { return s.span.SpanContext().SpanID().String() }

// ParentSpanID is empty for root spans.
func (s *Span) ParentSpanID() string {
	if !s.parent.HasSpanID() {
		return ""
	}
	return s.parent.SpanID().String()
}

func (s *Span) StartTime() time.Time { return s.start }

// EndTime is zero until End is called.
func (s *Span) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// SpanContext returns the propagated identity of the span.
func (s *Span) SpanContext() trace.SpanContext {
	return s.span.SpanContext()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	case error:
		return attribute.String(key, v.Error())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
