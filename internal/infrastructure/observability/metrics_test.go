package observability

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, r *Registry, name string, labels Labels) float64 {
	t.Helper()
	snap, err := r.Snapshot()
	require.NoError(t, err)

	f, ok := snap.Family(name)
	if !ok {
		return 0
	}
	for _, s := range f.Samples {
		if assert.ObjectsAreEqual(labels, s.Labels) {
			return s.Value
		}
	}
	return 0
}

func TestIncrementCounter(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	labels := Labels{"method": "GET", "endpoint": "/users", "status_code": "200"}

	require.NoError(t, r.IncrementCounter("http_requests_total", labels))
	require.NoError(t, r.IncrementCounter("http_requests_total", labels))
	require.NoError(t, r.AddCounter("http_requests_total", labels, 3))

	assert.Equal(t, 5.0, counterValue(t, r, "http_requests_total", labels))
}

func TestLabelSchemaIsFixedOnFirstUse(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	require.NoError(t, r.IncrementCounter("http_errors_total", Labels{"method": "GET", "error_type": "client_error"}))

	err := r.IncrementCounter("http_errors_total", Labels{"method": "GET"})
	assert.ErrorIs(t, err, ErrLabelSchemaMismatch)

	err = r.IncrementCounter("http_errors_total", Labels{"method": "GET", "error_type": "x", "extra": "y"})
	assert.ErrorIs(t, err, ErrLabelSchemaMismatch)

	// key order never matters
	assert.NoError(t, r.IncrementCounter("http_errors_total", Labels{"error_type": "server_error", "method": "POST"}))
}

func TestMetricKindIsFixedOnFirstUse(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	require.NoError(t, r.SetGauge("active_users_total", nil, 3))
	assert.ErrorIs(t, r.IncrementCounter("active_users_total", nil), ErrMetricKindMismatch)
	assert.ErrorIs(t, r.ObserveLatency("active_users_total", nil, 1), ErrMetricKindMismatch)
}

func TestInvalidMeasurements(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	assert.ErrorIs(t, r.ObserveLatency("latency", nil, -0.1), ErrInvalidMeasurement)
	assert.ErrorIs(t, r.ObserveLatency("latency", nil, math.NaN()), ErrInvalidMeasurement)
	assert.ErrorIs(t, r.ObserveLatency("latency", nil, math.Inf(1)), ErrInvalidMeasurement)
	assert.ErrorIs(t, r.AddCounter("count", nil, -1), ErrInvalidMeasurement)

	// rejected measurements never create the metric
	assert.Empty(t, r.MetricsInfo())
}

func TestObserveLatencyRecordsHistogram(t *testing.T) {
	r := NewRegistry(RegistryOptions{Buckets: []float64{0.1, 1}})
	labels := Labels{"method": "GET", "endpoint": "/slow"}

	require.NoError(t, r.ObserveLatency("http_request_duration_seconds", labels, 0.05))
	require.NoError(t, r.ObserveLatency("http_request_duration_seconds", labels, 0.5))
	require.NoError(t, r.ObserveLatency("http_request_duration_seconds", labels, 0))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	f, ok := snap.Family("http_request_duration_seconds")
	require.True(t, ok)
	require.Len(t, f.Samples, 1)

	s := f.Samples[0]
	assert.Equal(t, "histogram", f.Type)
	assert.Equal(t, uint64(3), s.Count)
	assert.InDelta(t, 0.55, s.Sum, 1e-9)
	require.Len(t, s.Buckets, 2)
	assert.Equal(t, uint64(2), s.Buckets[0].Count)
	assert.Equal(t, uint64(3), s.Buckets[1].Count)
}

func TestSetGaugeOverwrites(t *testing.T) {
	r := NewRegistry(RegistryOptions{})

	require.NoError(t, r.SetGauge("active_users_total", nil, 4))
	require.NoError(t, r.SetGauge("active_users_total", nil, 2))

	assert.Equal(t, 2.0, counterValue(t, r, "active_users_total", Labels{}))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	labels := Labels{"method": "GET", "endpoint": "/", "status_code": "200"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, r.IncrementCounter("http_requests_total", labels))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5000.0, counterValue(t, r, "http_requests_total", labels))
}

func TestWriteTextAndHandler(t *testing.T) {
	r := NewRegistry(RegistryOptions{Namespace: "demo"})
	r.Describe("http_requests_total", "Total HTTP requests")
	require.NoError(t, r.IncrementCounter("http_requests_total", Labels{"method": "GET"}))

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "# HELP demo_http_requests_total Total HTTP requests")
	assert.Contains(t, buf.String(), "# TYPE demo_http_requests_total counter")
	assert.Contains(t, buf.String(), `demo_http_requests_total{method="GET"} 1`)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "demo_http_requests_total")
}

func TestMetricsInfo(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	r.Describe("http_errors_total", "Total HTTP errors")
	require.NoError(t, r.IncrementCounter("http_errors_total", Labels{"method": "GET", "endpoint": "/", "error_type": "client_error"}))
	require.NoError(t, r.SetGauge("active_users_total", nil, 0))

	info := r.MetricsInfo()
	require.Len(t, info, 2)
	assert.Equal(t, "active_users_total", info[0].Name)
	assert.Equal(t, KindGauge, info[0].Kind)
	assert.Equal(t, "http_errors_total", info[1].Name)
	assert.Equal(t, "Total HTTP errors", info[1].Help)
	assert.Equal(t, []string{"endpoint", "error_type", "method"}, info[1].Labels)
}

func TestRegisterCollector(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "log_sink_errors_total", Help: "errors"})
	c.Add(2)

	require.NoError(t, r.RegisterCollector(c))
	assert.Equal(t, 2.0, counterValue(t, r, "log_sink_errors_total", Labels{}))
	assert.Error(t, r.RegisterCollector(c), "duplicate registration")
}

func TestRuntimeMetrics(t *testing.T) {
	r := NewRegistry(RegistryOptions{RuntimeMetrics: true})

	snap, err := r.Snapshot()
	require.NoError(t, err)
	_, ok := snap.Family("go_goroutines")
	assert.True(t, ok)
}
