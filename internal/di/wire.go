//go:build wireinject
// +build wireinject

package di

import (
	"SignalDesk/pkg/config"
	"SignalDesk/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideClickHouseClient,
		ProvideCacheStore,
		ProvideHub,

		// Repositories
		ProvideEventPublisher,
		ProvideReportStore,
		ProvidePresetStore,

		// Remote service and use cases
		ProvideStrategyService,
		ProvideSignalCache,
		ProvideEngine,

		// Transport
		ProvideRateLimiter,
		ProvideHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
