package di

import (
	"context"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"observability-demo/internal/application/services"
	"observability-demo/internal/config"
	"observability-demo/internal/domain/user"
	"observability-demo/internal/infrastructure/logging"
	"observability-demo/internal/infrastructure/observability"
	"observability-demo/internal/infrastructure/persistence/memory"
	"observability-demo/internal/interfaces/http/rest"
)

const cleanupTimeout = 10 * time.Second

// ProvideLogger creates the logger and its sinks
func ProvideLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	logger, err := logging.New(logging.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Development:    cfg.IsDevelopment(),
		ConsoleLevel:   cfg.Logging.Level,
		FilePath:       cfg.Logging.File,
		FileLevel:      cfg.Logging.FileLevel,
		FileMaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		FileMaxBackups: cfg.Logging.FileMaxBackups,
		OTLP: logging.OTLPConfig{
			Enabled:        cfg.Logging.OTLPEnabled,
			Endpoint:       cfg.Logging.OTLPEndpoint,
			Insecure:       cfg.Tracing.Insecure,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			ExportTimeout:  cfg.Tracing.ExportTimeout,
		},
		OTLPLevel: cfg.Logging.OTLPLevel,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = logger.Shutdown(ctx)
	}
	return logger, cleanup, nil
}

// ProvideZapLogger exposes the zap logger shared by every component
func ProvideZapLogger(logger *logging.Logger) *zap.Logger {
	return logger.Zap()
}

// ProvideRegistry creates the metrics registry. Log sink failures are
// exported through it.
func ProvideRegistry(cfg *config.Config, logger *logging.Logger) (*observability.Registry, error) {
	registry := observability.NewRegistry(observability.RegistryOptions{
		Namespace:      cfg.Metrics.Namespace,
		Buckets:        cfg.Metrics.Buckets,
		RuntimeMetrics: cfg.Metrics.RuntimeMetrics,
	})
	if err := registry.RegisterCollector(logger.Collector()); err != nil {
		return nil, err
	}
	return registry, nil
}

// ProvideTracerConfig maps the tracing configuration
func ProvideTracerConfig(cfg *config.Config) observability.TracerConfig {
	exporter := cfg.Tracing.Exporter
	if !cfg.Tracing.Enabled {
		exporter = observability.ExporterNone
	}
	return observability.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    string(cfg.Environment),
		Exporter:       exporter,
		Endpoint:       cfg.Tracing.Endpoint(),
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		QueueSize:      cfg.Tracing.QueueSize,
		BatchSize:      cfg.Tracing.BatchSize,
		FlushInterval:  cfg.Tracing.FlushInterval,
		ExportTimeout:  cfg.Tracing.ExportTimeout,
	}
}

// ProvideSpanExporter creates the configured span exporter
func ProvideSpanExporter(ctx context.Context, cfg observability.TracerConfig, logger *zap.Logger) (sdktrace.SpanExporter, error) {
	return observability.NewExporter(ctx, cfg, logger)
}

// ProvideTracer creates the tracer. Cleanup flushes pending spans.
func ProvideTracer(cfg observability.TracerConfig, exporter sdktrace.SpanExporter, logger *zap.Logger) (*observability.Tracer, func(), error) {
	tracer, err := observability.NewTracer(cfg, exporter, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	return tracer, cleanup, nil
}

// ProvideUserRepository creates the in-memory user registry
func ProvideUserRepository() *memory.UserRepository {
	return memory.NewUserRepository()
}

// ProvideFaultPolicy creates the fault policy for user creation
func ProvideFaultPolicy(cfg *config.Config) (*services.ProbabilityFault, error) {
	return services.NewProbabilityFault(cfg.Demo.FaultProbability, nil)
}

// ProvideUserService creates the user service
func ProvideUserService(repo user.Repository, faults *services.ProbabilityFault, cfg *config.Config, logger *zap.Logger) *services.UserService {
	return services.NewUserService(repo, services.UserServiceOptions{
		Delay:  services.RandomDelay{Min: cfg.Demo.ProcessingDelayMin, Max: cfg.Demo.ProcessingDelayMax},
		Slow:   services.RandomDelay{Min: cfg.Demo.SlowDelayMin, Max: cfg.Demo.SlowDelayMax},
		Faults: faults,
	}, logger)
}

// ProvideInstrumentation creates the request instrumentation middleware
func ProvideInstrumentation(
	registry *observability.Registry,
	tracer *observability.Tracer,
	service *services.UserService,
	logger *zap.Logger,
) *observability.Instrumentation {
	return observability.NewInstrumentation(observability.InstrumentationConfig{
		Registry:  registry,
		Tracer:    tracer,
		Logger:    logger,
		Resources: service,
	})
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	service *services.UserService,
	registry *observability.Registry,
	tracer *observability.Tracer,
	instrumentation *observability.Instrumentation,
	sinks *logging.Logger,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(rest.RouterConfig{
		Service:         service,
		Registry:        registry,
		Tracer:          tracer,
		Instrumentation: instrumentation,
		Sinks:           sinks,
		Version:         cfg.ServiceVersion,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Logger:          logger,
	})
}

// ProvideHTTPHandler builds the routed handler
func ProvideHTTPHandler(router *rest.Router) http.Handler {
	return router.Setup()
}

// ProvideConfigWatcher watches the configuration file, if any
func ProvideConfigWatcher(cfg *config.Config, logger *zap.Logger) (*config.Watcher, func(), error) {
	watcher, err := config.NewWatcher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return watcher, watcher.Stop, nil
}
