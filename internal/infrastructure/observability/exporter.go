package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Trace exporter names accepted by NewExporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// exporterFailureThreshold is the number of consecutive failed exports that
// opens the breaker.
const exporterFailureThreshold = 5

// NewExporter creates the span exporter named by cfg.Exporter, wrapped in a
// circuit breaker.
func NewExporter(ctx context.Context, cfg TracerConfig, logger *zap.Logger) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)

	switch cfg.Exporter {
	case ExporterOTLP, "":
		exp, err = createOTLPExporter(ctx, cfg)
	case ExporterStdout:
		var w io.Writer = os.Stdout
		if cfg.StdoutWriter != nil {
			w = cfg.StdoutWriter
		}
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterNone:
		exp = discardExporter{}
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.Exporter, err)
	}

	return NewBreakerExporter(exp, cfg.BreakerTimeout, logger), nil
}

func createOTLPExporter(ctx context.Context, cfg TracerConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}
	return otlptracegrpc.New(ctx, opts...)
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }

// BreakerExporter stops calling a failing exporter for a while once it has
// failed exporterFailureThreshold times in a row. Batches offered while the
// breaker is open are rejected and counted.
type BreakerExporter struct {
	next     sdktrace.SpanExporter
	cb       *gobreaker.CircuitBreaker
	rejected atomic.Uint64
}

// NewBreakerExporter wraps next. openTimeout is how long the breaker stays
// open before probing again; zero means 30s.
func NewBreakerExporter(next sdktrace.SpanExporter, openTimeout time.Duration, logger *zap.Logger) *BreakerExporter {
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "span-exporter",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= exporterFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Span exporter circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerExporter{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// ExportSpans forwards spans unless the breaker is open.
func (e *BreakerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	_, err := e.cb.Execute(func() (interface{}, error) {
		return nil, e.next.ExportSpans(ctx, spans)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.rejected.Add(uint64(len(spans)))
	}
	return err
}

// Shutdown shuts down the wrapped exporter.
func (e *BreakerExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}

// State reports the breaker state.
func (e *BreakerExporter) State() gobreaker.State {
	return e.cb.State()
}

// Rejected returns the number of spans refused while the breaker was open.
func (e *BreakerExporter) Rejected() uint64 {
	return e.rejected.Load()
}
