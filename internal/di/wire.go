//go:build wireinject
// +build wireinject

package di

import (
	"SignalPulse/pkg/config"
	"SignalPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideClickHouseClient,

		// Repositories
		ProvideStateStore,
		ProvideSignalStore,
		ProvideJobSpecs,
		ProvideFinnhubTracker,
		ProvideDataSources,

		// Services and use cases
		ProvideClassifier,
		ProvideDelivery,
		ProvidePipeline,
		ProvideHealthRegistry,
		ProvideScheduler,
		ProvideTriggerQueue,

		// Transport
		ProvideSignalsHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
