package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/engine"
	"github.com/zeusync/simcore/internal/core/observability/log"
)

var ProviderSet = wire.NewSet(ProvideLogger, ProvideEngine)

// ProvideLogger builds the process logger at the configured level.
func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideEngine(cfg config.Config, logger *log.Logger, opts []engine.Option) (*engine.Engine, error) {
	return engine.New(cfg, logger, opts...)
}
