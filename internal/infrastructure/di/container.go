package di

import (
	"net/http"

	"go.uber.org/zap"

	"observability-demo/internal/application/services"
	"observability-demo/internal/config"
	"observability-demo/internal/infrastructure/logging"
	"observability-demo/internal/infrastructure/observability"
	"observability-demo/internal/infrastructure/persistence/memory"
)

// Container holds all application dependencies
type Container struct {
	Config          *config.Config
	Logger          *logging.Logger
	Zap             *zap.Logger
	Registry        *observability.Registry
	Tracer          *observability.Tracer
	Users           *memory.UserRepository
	Faults          *services.ProbabilityFault
	Service         *services.UserService
	Instrumentation *observability.Instrumentation
	Handler         http.Handler
	Watcher         *config.Watcher
}

// ApplyConfig applies the settings that can change without a restart: the
// console log level and the fault probability.
func (c *Container) ApplyConfig(cfg *config.Config) {
	if err := c.Logger.SetConsoleLevel(cfg.Logging.Level); err != nil {
		c.Zap.Warn("Ignoring log level change", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}
	if err := c.Faults.SetProbability(cfg.Demo.FaultProbability); err != nil {
		c.Zap.Warn("Ignoring fault probability change", zap.Error(err))
	}
	c.Zap.Info("Applied configuration change",
		zap.String("log_level", cfg.Logging.Level),
		zap.Float64("fault_probability", cfg.Demo.FaultProbability),
	)
}

// WatchConfig registers ApplyConfig with the configuration watcher.
func (c *Container) WatchConfig() {
	c.Watcher.OnChange(c.ApplyConfig)
}
