//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/engine"
	"github.com/zeusync/simcore/internal/core/observability/log"
)

func InitializeLogger(cfg config.Config) *log.Logger {
	wire.Build(ProvideLogger)
	return nil
}

func InitializeEngine(cfg config.Config, opts []engine.Option) (*engine.Engine, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
