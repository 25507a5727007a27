//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SignalLab/pkg/config"
	"SignalLab/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideKafkaProducer,
		ProvideLogCollector,
		ProvideLogger,
		ProvideMetrics,
		ProvideTracerProvider,
		ProvideTracer,

		// Infrastructure clients
		ProvideMongoClient,
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Repositories
		ProvideModelRepository,
		ProvideSignalRepository,
		ProvideUserRepository,
		ProvideEventPublisher,
		ProvideSignalHistory,
		ProvideCacheStore,

		// Services
		ProvideRateLimiter,
		ProvideFMPClient,
		ProvideMarketDataCache,
		ProvideOrchestrator,

		// Use cases
		ProvideLifecycle,
		ProvideTrainJob,
		ProvideTrainingQueue,
		ProvideTrainingService,
		ProvideSignalService,
		ProvideModelService,
		ProvideAuthService,
		ProvideSignalHistoryHandler,
		ProvideStaleMonitor,

		// HTTP
		ProvideHandlers,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
