package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"observability-demo/internal/application/services"
	"observability-demo/internal/infrastructure/observability"
	"observability-demo/internal/interfaces/http/rest/handlers"
	"observability-demo/internal/middleware"
	"observability-demo/pkg/api"
)

// RouterConfig wires the collaborators of the HTTP surface.
type RouterConfig struct {
	Service         *services.UserService
	Registry        *observability.Registry
	Tracer          *observability.Tracer
	Instrumentation *observability.Instrumentation
	Sinks           handlers.SinkReporter
	Version         string
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// Router creates and configures the HTTP router
type Router struct {
	cfg RouterConfig
}

// NewRouter creates a new router instance
func NewRouter(cfg RouterConfig) *Router {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Router{cfg: cfg}
}

// Setup configures all routes and middleware. Recovery sits inside the
// instrumentation so a handler panic is observed as a 500 response.
func (rt *Router) Setup() chi.Router {
	router := chi.NewRouter()

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader, "traceparent", "tracestate"},
		ExposedHeaders: []string{middleware.RequestIDHeader, "X-Trace-ID", "traceparent"},
		MaxAge:         300,
	}))
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(rt.cfg.Instrumentation.Handler)
	router.Use(middleware.Recovery(rt.cfg.Logger))
	router.Use(middleware.Timeout(rt.cfg.RequestTimeout))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = api.Error(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = api.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	system := handlers.NewSystemHandler(handlers.SystemHandlerConfig{
		Service:  rt.cfg.Service,
		Registry: rt.cfg.Registry,
		Tracer:   rt.cfg.Tracer,
		Sinks:    rt.cfg.Sinks,
		Version:  rt.cfg.Version,
		Logger:   rt.cfg.Logger,
	})
	router.Get("/", system.Root)
	router.Get("/health", system.Health)
	router.Get("/slow", system.Slow)
	router.Get("/error", system.Error)
	router.Get("/metrics-info", system.MetricsInfo)
	router.Get("/openapi.json", system.OpenAPI)
	router.Method(http.MethodGet, "/metrics", rt.cfg.Registry.Handler())

	userHandler := handlers.NewUserHandler(rt.cfg.Service, rt.cfg.Logger)
	router.Get("/users", userHandler.ListUsers)
	router.Post("/users", userHandler.CreateUser)
	router.Get("/users/{id}", userHandler.GetUser)
	router.Delete("/users/{id}", userHandler.DeleteUser)

	return router
}
