package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"observability-demo/internal/middleware"
	"observability-demo/pkg/api"
)

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

type instrumentationFixture struct {
	registry *Registry
	tracer   *Tracer
	exporter *tracetest.InMemoryExporter
	logs     *observer.ObservedLogs
	router   chi.Router
}

func newInstrumentationFixture(t *testing.T, withRecovery bool, opts ...zap.Option) *instrumentationFixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core, opts...)
	registry := NewRegistry(RegistryOptions{})
	tracer, exp := newTestTracer(t, logger)

	inst := NewInstrumentation(InstrumentationConfig{
		Registry:  registry,
		Tracer:    tracer,
		Logger:    logger,
		Resources: fixedCount(3),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, inst.Handler)
	if withRecovery {
		r.Use(middleware.Recovery(logger))
	}
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "9999" {
			_ = api.Error(w, http.StatusNotFound, "User not found")
			return
		}
		_ = api.Success(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
	})
	r.Get("/fault", func(http.ResponseWriter, *http.Request) {
		panic("injected fault")
	})
	r.Get("/wait", func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	return &instrumentationFixture{registry: registry, tracer: tracer, exporter: exp, logs: logs, router: r}
}

func (f *instrumentationFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *instrumentationFixture) spans(t *testing.T) tracetest.SpanStubs {
	return flushed(t, f.tracer, f.exporter)
}

func histogramCount(t *testing.T, r *Registry, name string, labels Labels) uint64 {
	t.Helper()
	snap, err := r.Snapshot()
	require.NoError(t, err)
	f, ok := snap.Family(name)
	if !ok {
		return 0
	}
	for _, s := range f.Samples {
		if assert.ObjectsAreEqual(labels, s.Labels) {
			return s.Count
		}
	}
	return 0
}

func TestEveryRequestCountedOnce(t *testing.T) {
	f := newInstrumentationFixture(t, true)
	okLabels := Labels{"method": "GET", "endpoint": "/users/{id}", "status_code": "200"}

	before := counterValue(t, f.registry, MetricRequestsTotal, okLabels)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/users/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, before+1, counterValue(t, f.registry, MetricRequestsTotal, okLabels))
	assert.Equal(t, uint64(1), histogramCount(t, f.registry, MetricRequestDuration, Labels{"method": "GET", "endpoint": "/users/{id}"}))
	assert.Equal(t, 3.0, counterValue(t, f.registry, MetricActiveUsers, Labels{}))

	f.do(httptest.NewRequest(http.MethodGet, "/users/2", nil))
	assert.Equal(t, before+2, counterValue(t, f.registry, MetricRequestsTotal, okLabels))
}

func TestNotFoundCountsClientErrorOnce(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/users/9999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricErrorsTotal,
		Labels{"method": "GET", "endpoint": "/users/{id}", "error_type": ErrorTypeClient}))
	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": "/users/{id}", "status_code": "404"}))

	completed := f.logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.WarnLevel, completed[0].Level)

	spans := f.spans(t)
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /users/{id}", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestRecoveredFaultIsServerError(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/fault", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricErrorsTotal,
		Labels{"method": "GET", "endpoint": "/fault", "error_type": ErrorTypeServer}))

	completed := f.logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.ErrorLevel, completed[0].Level)

	spans := f.spans(t)
	require.Len(t, spans, 1)
	assert.False(t, spans[0].EndTime.IsZero())
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestUnrecoveredFaultStillFinishesAndRepanics(t *testing.T) {
	f := newInstrumentationFixture(t, false)

	assert.PanicsWithValue(t, "injected fault", func() {
		f.do(httptest.NewRequest(http.MethodGet, "/fault", nil))
	})

	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": "/fault", "status_code": "500"}))
	assert.Equal(t, 1, f.logs.FilterMessage("Request failed with unhandled fault").Len())

	spans := f.spans(t)
	require.Len(t, spans, 1)
	assert.False(t, spans[0].EndTime.IsZero(), "span closed on fault")
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestCancelledRequestRecordedAs499(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/wait", nil).WithContext(ctx)
	f.do(req)

	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": "/wait", "status_code": "499"}))

	spans := f.spans(t)
	require.Len(t, spans, 1)
	var cancelled bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == "http.request.cancelled" {
			cancelled = kv.Value.AsBool()
		}
	}
	assert.True(t, cancelled)
}

func TestUnmatchedRoute(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": UnmatchedEndpoint, "status_code": "404"}))
}

func TestCorrelationAndTraceHeaders(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.Header.Set(middleware.RequestIDHeader, "corr-42")
	rec := f.do(req)

	assert.Equal(t, "corr-42", rec.Header().Get(middleware.RequestIDHeader))
	assert.Len(t, rec.Header().Get("X-Trace-ID"), 32)
	assert.Contains(t, rec.Header().Get("traceparent"), rec.Header().Get("X-Trace-ID"))

	incoming := f.logs.FilterMessage("Incoming request").All()
	require.Len(t, incoming, 1)
	ctx := incoming[0].ContextMap()
	assert.Equal(t, "corr-42", ctx["correlation_id"])
	assert.Equal(t, "GET", ctx["method"])
	assert.Equal(t, "/users/1", ctx["path"])
	assert.Equal(t, rec.Header().Get("X-Trace-ID"), ctx["trace_id"])

	spans := f.spans(t)
	require.Len(t, spans, 1)
	var corr string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "request.correlation_id" {
			corr = kv.Value.AsString()
		}
	}
	assert.Equal(t, "corr-42", corr)
}

func TestInstrumentationErrorDoesNotFailRequest(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	// Claim the request counter name with an incompatible schema.
	require.NoError(t, f.registry.IncrementCounter(MetricRequestsTotal, Labels{"route": "/"}))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/users/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	entries := f.logs.FilterMessage("Instrumentation error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	require.Len(t, f.spans(t), 1, "span still closed")
}

func TestInstrumentationErrorAfterResponseDoesNotPanicInDevelopment(t *testing.T) {
	f := newInstrumentationFixture(t, true, zap.Development())
	require.NoError(t, f.registry.IncrementCounter(MetricRequestsTotal, Labels{"route": "/"}))

	var rec *httptest.ResponseRecorder
	assert.NotPanics(t, func() {
		rec = f.do(httptest.NewRequest(http.MethodGet, "/users/1", nil))
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.logs.FilterMessage("Instrumentation error").Len())
}

func TestCancelAfterResponseKeepsObservedStatus(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.router.Get("/done", func(w http.ResponseWriter, r *http.Request) {
		_ = api.Success(w, http.StatusOK, map[string]string{"status": "done"})
		cancel()
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/done", nil).WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": "/done", "status_code": "200"}))
	assert.Equal(t, 0.0, counterValue(t, f.registry, MetricRequestsTotal,
		Labels{"method": "GET", "endpoint": "/done", "status_code": "499"}))
	assert.Equal(t, 0.0, counterValue(t, f.registry, MetricErrorsTotal,
		Labels{"method": "GET", "endpoint": "/done", "error_type": ErrorTypeClient}))

	spans := f.spans(t)
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestBaggageBecomesSpanAttributes(t *testing.T) {
	f := newInstrumentationFixture(t, true)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.Header.Set("baggage", "tenant=acme,region=eu-west-1")
	f.do(req)

	spans := f.spans(t)
	require.Len(t, spans, 1)
	got := map[string]string{}
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "acme", got["baggage.tenant"])
	assert.Equal(t, "eu-west-1", got["baggage.region"])
}
