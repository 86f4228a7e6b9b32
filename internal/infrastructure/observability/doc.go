// Package observability provides the metrics, tracing and request
// instrumentation of the service.
//
// # Components
//
// Registry (metrics.go) owns a private prometheus registry. Counters,
// histograms and gauges are created on first use; the first use of a name
// fixes its kind and label keys, and later calls with a different shape fail
// with ErrMetricKindMismatch or ErrLabelSchemaMismatch.
//
// Tracer (tracing.go) wraps an OpenTelemetry tracer provider. Ended spans go
// to a BatchSpanProcessor (processor.go) whose bounded queue drops the oldest
// span on overflow, so request handling never waits on the collector. The
// exporter (exporter.go) sits behind a circuit breaker that stops calling a
// collector after repeated failures.
//
// Instrumentation (middleware.go) wraps the chi router:
//
//	inst := observability.NewInstrumentation(observability.InstrumentationConfig{
//		Registry:  registry,
//		Tracer:    tracer,
//		Logger:    logger,
//		Resources: users,
//	})
//	router.Use(inst.Handler)
//
// Every request produces exactly one http_requests_total increment, one
// http_request_duration_seconds observation, one completion log line and one
// closed span, including requests that fail, panic or are cancelled.
package observability
