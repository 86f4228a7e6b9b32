//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"observability-demo/internal/config"
	"observability-demo/internal/domain/user"
	"observability-demo/internal/infrastructure/persistence/memory"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideZapLogger,
	ProvideRegistry,
	ProvideTracerConfig,
	ProvideSpanExporter,
	ProvideTracer,
	ProvideUserRepository,
	wire.Bind(new(user.Repository), new(*memory.UserRepository)),
	ProvideFaultPolicy,
	ProvideUserService,
	ProvideInstrumentation,
	ProvideRouter,
	ProvideHTTPHandler,
	ProvideConfigWatcher,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
