package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"observability-demo/internal/infrastructure/observability"
	"observability-demo/pkg/api"
	apperrors "observability-demo/pkg/errors"
)

// MessageResponse is the body of endpoints that report an outcome.
type MessageResponse struct {
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// MetricsInfoResponse is the body of GET /metrics-info.
type MetricsInfoResponse struct {
	Endpoint      string                        `json:"endpoint"`
	Metrics       []observability.MetricInfo    `json:"metrics"`
	SpanProcessor *observability.ProcessorStats `json:"span_processor,omitempty"`
	LogSinkErrors map[string]uint64             `json:"log_sink_errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	if err := api.Success(w, status, data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// respondError maps err onto its status code and writes {"detail": ...}.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	if span := observability.SpanFromContext(r.Context()); span != nil && status >= http.StatusInternalServerError {
		_ = span.RecordError(err)
	}
	if status >= http.StatusInternalServerError && !apperrors.IsInjectedFault(err) {
		logger.Error("Request handler failed", zap.Error(err))
	}
	if writeErr := api.Error(w, status, apperrors.Message(err)); writeErr != nil {
		logger.Error("Failed to encode response", zap.Error(writeErr))
	}
}

// annotate sets an attribute on the request span, if any.
func annotate(ctx context.Context, key string, value any) {
	if span := observability.SpanFromContext(ctx); span != nil {
		_ = span.SetAttribute(key, value)
	}
}

func event(ctx context.Context, name string, attrs map[string]any) {
	if span := observability.SpanFromContext(ctx); span != nil {
		_ = span.AddEvent(name, attrs)
	}
}
