package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"observability-demo/internal/middleware"
	apperrors "observability-demo/pkg/errors"
)

// Metric names recorded by the instrumentation.
const (
	MetricRequestsTotal   = "http_requests_total"
	MetricRequestDuration = "http_request_duration_seconds"
	MetricActiveUsers     = "active_users_total"
	MetricErrorsTotal     = "http_errors_total"
)

// Error classes of http_errors_total.
const (
	ErrorTypeClient = "client_error"
	ErrorTypeServer = "server_error"
)

// UnmatchedEndpoint labels requests that matched no route.
const UnmatchedEndpoint = "unmatched"

const slowRequestThreshold = 5 * time.Second

// ResourceCounter reports the current number of subject resources.
type ResourceCounter interface {
	Count() int
}

// InstrumentationConfig wires the collaborators of Instrumentation.
type InstrumentationConfig struct {
	Registry  *Registry
	Tracer    *Tracer
	Logger    *zap.Logger
	Resources ResourceCounter
	Now       func() time.Time
}

// Instrumentation measures, logs and traces every request it wraps.
type Instrumentation struct {
	registry  *Registry
	tracer    *Tracer
	logger    *zap.Logger
	resources ResourceCounter
	now       func() time.Time
}

// NewInstrumentation creates the middleware and describes its metrics.
func NewInstrumentation(cfg InstrumentationConfig) *Instrumentation {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	cfg.Registry.Describe(MetricRequestsTotal, "Total number of HTTP requests")
	cfg.Registry.Describe(MetricRequestDuration, "HTTP request duration in seconds")
	cfg.Registry.Describe(MetricActiveUsers, "Number of users currently stored")
	cfg.Registry.Describe(MetricErrorsTotal, "Total number of HTTP error responses")

	return &Instrumentation{
		registry:  cfg.Registry,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		resources: cfg.Resources,
		now:       now,
	}
}

// Handler wraps next. The post-phase runs deferred, so metrics, the
// completion log and the span end happen exactly once on every exit path.
// A panic escaping next is recorded as a 500 and then re-raised.
func (i *Instrumentation) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := i.now()

		ctx := i.tracer.Extract(r.Context(), r.Header)

		correlationID := middleware.GetRequestID(ctx)
		if correlationID == "" {
			correlationID = uuid.New().String()
			ctx = middleware.WithRequestID(ctx, correlationID)
		}

		ctx, span := i.tracer.StartSpan(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.host", r.Host),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("http.client_addr", r.RemoteAddr),
				attribute.String("request.correlation_id", correlationID),
			),
			trace.WithAttributes(baggageAttributes(ctx)...),
		)

		i.tracer.Inject(ctx, w.Header())
		w.Header().Set("X-Trace-ID", span.TraceID())

		i.logger.Info("Incoming request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("client_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.String("correlation_id", correlationID),
			zap.String("trace_id", span.TraceID()),
		)

		rw := newStatusRecorder(w)
		r = r.WithContext(ctx)

		defer func() {
			fault := recover()
			i.finish(r, rw, span, start, correlationID, fault)
			if fault != nil {
				panic(fault)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

func (i *Instrumentation) finish(r *http.Request, rw *statusRecorder, span *Span, start time.Time, correlationID string, fault any) {
	var errs []error

	status := rw.Status()
	if fault != nil {
		status = http.StatusInternalServerError
	}
	// A response already sent is the observed outcome even if the client left.
	cancelled := errors.Is(r.Context().Err(), context.Canceled) && !rw.Written()
	if cancelled {
		status = apperrors.StatusClientClosedRequest
	}

	duration := i.now().Sub(start)
	if duration < 0 {
		duration = 0
	}
	endpoint := routePattern(r)
	statusCode := strconv.Itoa(status)

	// metrics
	errs = append(errs,
		i.registry.IncrementCounter(MetricRequestsTotal, Labels{
			"method": r.Method, "endpoint": endpoint, "status_code": statusCode,
		}),
		i.registry.ObserveLatency(MetricRequestDuration, Labels{
			"method": r.Method, "endpoint": endpoint,
		}, duration.Seconds()),
	)
	if i.resources != nil {
		errs = append(errs, i.registry.SetGauge(MetricActiveUsers, nil, float64(i.resources.Count())))
	}
	if errorType := errorClass(status); errorType != "" {
		errs = append(errs, i.registry.IncrementCounter(MetricErrorsTotal, Labels{
			"method": r.Method, "endpoint": endpoint, "error_type": errorType,
		}))
	}

	// log
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("endpoint", endpoint),
		zap.Int("status_code", status),
		zap.Float64("duration_ms", float64(duration.Microseconds())/1000),
		zap.String("correlation_id", correlationID),
		zap.String("trace_id", span.TraceID()),
	}
	if cancelled {
		fields = append(fields, zap.Bool("cancelled", true))
	}
	if fault != nil {
		i.logger.Error("Request failed with unhandled fault", append(fields, zap.Any("panic", fault))...)
	}
	if ce := i.logger.Check(completionLevel(status), "Request completed"); ce != nil {
		ce.Write(fields...)
	}

	// span
	errs = append(errs,
		span.SetName(r.Method+" "+endpoint),
		span.SetAttribute("http.route", endpoint),
		span.SetAttribute("http.status_code", status),
		span.SetAttribute("http.response_size", rw.BytesWritten()),
		span.SetAttribute("http.duration_ms", float64(duration.Microseconds())/1000),
	)
	if cancelled {
		errs = append(errs, span.SetAttribute("http.request.cancelled", true))
	}
	if duration > slowRequestThreshold {
		errs = append(errs, span.AddEvent("slow_request_warning", map[string]any{
			"duration_seconds": duration.Seconds(),
		}))
	}
	if fault != nil {
		errs = append(errs, span.RecordError(fmt.Errorf("panic: %v", fault)))
	} else if status >= http.StatusBadRequest {
		errs = append(errs, span.SetStatus(false, fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))))
	} else {
		errs = append(errs, span.SetStatus(true, ""))
	}
	span.End()

	// Reported last so a development-mode DPanic cannot skip any step above.
	// Once a response is on the wire only an Error is logged.
	if err := errors.Join(errs...); err != nil {
		level := zapcore.DPanicLevel
		if rw.Written() {
			level = zapcore.ErrorLevel
		}
		if ce := i.logger.Check(level, "Instrumentation error"); ce != nil {
			ce.Write(
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
		}
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return UnmatchedEndpoint
}

func errorClass(status int) string {
	switch {
	case status >= 500:
		return ErrorTypeServer
	case status >= 400:
		return ErrorTypeClient
	default:
		return ""
	}
}

func completionLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// statusRecorder captures the status and size of the response.
type statusRecorder struct {
	http.ResponseWriter
	status        int
	bytesWritten  int64
	headerWritten bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.headerWritten {
		w.status = status
		w.headerWritten = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *statusRecorder) Status() int         { return w.status }
func (w *statusRecorder) BytesWritten() int64 { return w.bytesWritten }
func (w *statusRecorder) Written() bool       { return w.headerWritten }

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
