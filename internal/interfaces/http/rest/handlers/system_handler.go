package handlers

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/swaggo/swag"
	"go.uber.org/zap"

	"observability-demo/internal/application/services"
	"observability-demo/internal/infrastructure/observability"
	"observability-demo/pkg/api"
)

// IntentionalErrorMessage is the detail returned by GET /error.
const IntentionalErrorMessage = "Intentional error for testing"

// SinkReporter reports per-sink log write failures.
type SinkReporter interface {
	SinkErrors() map[string]uint64
}

// SystemHandler serves the service, demo and observability endpoints.
type SystemHandler struct {
	service  *services.UserService
	registry *observability.Registry
	tracer   *observability.Tracer
	sinks    SinkReporter
	version  string
	logger   *zap.Logger
	now      func() time.Time
}

// SystemHandlerConfig wires a SystemHandler. Tracer and Sinks are optional.
type SystemHandlerConfig struct {
	Service  *services.UserService
	Registry *observability.Registry
	Tracer   *observability.Tracer
	Sinks    SinkReporter
	Version  string
	Logger   *zap.Logger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(cfg SystemHandlerConfig) *SystemHandler {
	return &SystemHandler{
		service:  cfg.Service,
		registry: cfg.Registry,
		tracer:   cfg.Tracer,
		sinks:    cfg.Sinks,
		version:  cfg.Version,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Root handles GET /
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"message":   "Observability Demo",
		"timestamp": h.now(),
	})
}

// Health handles GET /health. There are no dependencies to aggregate, so the
// status is always healthy.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now(),
		Version:   h.version,
	})
}

// Slow handles GET /slow
func (h *SystemHandler) Slow(w http.ResponseWriter, r *http.Request) {
	took, err := h.service.Slow(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	seconds := math.Round(took.Seconds()*100) / 100
	annotate(r.Context(), "processing_time_seconds", seconds)
	respondJSON(w, h.logger, http.StatusOK, MessageResponse{
		Message:   fmt.Sprintf("Slow endpoint completed after %.2f seconds", took.Seconds()),
		Timestamp: h.now(),
		Data:      map[string]any{"processing_time": seconds},
	})
}

// Error handles GET /error
func (h *SystemHandler) Error(w http.ResponseWriter, r *http.Request) {
	h.logger.Error("Intentional error endpoint called")
	event(r.Context(), "intentional_error", nil)
	if err := api.Error(w, http.StatusInternalServerError, IntentionalErrorMessage); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// MetricsInfo handles GET /metrics-info
func (h *SystemHandler) MetricsInfo(w http.ResponseWriter, r *http.Request) {
	resp := MetricsInfoResponse{
		Endpoint: "/metrics",
		Metrics:  h.registry.MetricsInfo(),
	}
	if h.tracer != nil {
		stats := h.tracer.Stats()
		resp.SpanProcessor = &stats
	}
	if h.sinks != nil {
		resp.LogSinkErrors = h.sinks.SinkErrors()
	}
	respondJSON(w, h.logger, http.StatusOK, resp)
}

// OpenAPI handles GET /openapi.json
func (h *SystemHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		h.logger.Error("Failed to read API document", zap.Error(err))
		_ = api.Error(w, http.StatusInternalServerError, "API document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
