package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"SignalLab/internal/domain/repository"
	"SignalLab/internal/handler/api"
	internalrepo "SignalLab/internal/repository"
	"SignalLab/internal/service/fmp"
	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/ratelimit"
	"SignalLab/internal/service/worker"
	"SignalLab/internal/usecase"
	"SignalLab/pkg/cache"
	pkgch "SignalLab/pkg/clickhouse"
	"SignalLab/pkg/config"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/http/middleware"
	pkgkafka "SignalLab/pkg/kafka"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/metrics"
	"SignalLab/pkg/mongodb"
	"SignalLab/pkg/process"
	"SignalLab/pkg/queue"
	"SignalLab/pkg/server"
)

// ProvideLogCollector returns nil unless log.collector is enabled.
func ProvideLogCollector(cfg *config.Config, producer *pkgkafka.Producer) *logger.Collector {
	if !cfg.Log.Collector.Enabled || producer == nil {
		return nil
	}
	return logger.NewCollector(logger.CollectorConfig{
		Interval:  cfg.Log.Collector.Interval,
		Topic:     cfg.Log.Collector.Topic,
		Publisher: producer,
	})
}

func ProvideLogger(cfg *config.Config, collector *logger.Collector) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if collector != nil {
		l.AttachCollector(collector)
	}
	return l.With(logger.String("service", "signallab"), logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideTracerProvider returns nil when tracing is disabled. Spans are
// exported to stdout.
func ProvideTracerProvider(cfg *config.Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Tracing.Enabled {
		return nil, nil
	}
	exp, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	name := cfg.Tracing.ServiceName
	if name == "" {
		name = "signallab"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func ProvideTracer(tp *sdktrace.TracerProvider) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer("signallab")
	}
	return tp.Tracer("signallab/worker")
}

// ProvideMongoClient returns nil for the memory storage backend.
func ProvideMongoClient(cfg *config.Config) (*mongodb.Client, error) {
	if cfg.Storage.Backend != "mongo" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := mongodb.NewClient(ctx,
		mongodb.WithURI(cfg.Mongo.URI),
		mongodb.WithDatabase(cfg.Mongo.Database),
		mongodb.WithConnectTimeout(cfg.Mongo.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo client: %w", err)
	}
	return client, nil
}

func ProvideModelRepository(client *mongodb.Client) repository.ModelRepository {
	if client == nil {
		return internalrepo.NewMemoryModelRepository()
	}
	return internalrepo.NewMongoModelRepository(client)
}

func ProvideSignalRepository(client *mongodb.Client) repository.SignalRepository {
	if client == nil {
		return internalrepo.NewMemorySignalRepository()
	}
	return internalrepo.NewMongoSignalRepository(client)
}

func ProvideUserRepository(client *mongodb.Client) repository.UserRepository {
	if client == nil {
		return internalrepo.NewMemoryUserRepository()
	}
	return internalrepo.NewMongoUserRepository(client)
}

// ProvideRedisClient returns nil unless redis is enabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideCacheStore builds the market data store named by cache.store.
func ProvideCacheStore(cfg *config.Config, rdb *redis.Client) cache.Service {
	switch cfg.Cache.Store {
	case "redis":
		return cache.NewRedisCache(rdb)
	case "layered":
		return cache.NewLayeredCache(cache.NewRedisCache(rdb),
			cache.WithLayeredMemorySize(cfg.Cache.MaxSize),
			cache.WithLayeredMemoryTTL(cfg.Cache.RealtimeTTL),
		)
	default:
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize))
	}
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideFMPClient(cfg *config.Config, limiter *ratelimit.Limiter, lgr *logger.Logger) *fmp.Client {
	return fmp.New(fmp.Config{
		APIKey:     cfg.FMP.APIKey,
		BaseURL:    cfg.FMP.BaseURL,
		Timeout:    cfg.FMP.Timeout,
		RateBurst:  cfg.FMP.RateBurst,
		RatePerSec: cfg.FMP.RatePerSec,
	}, fmp.WithLimiter(limiter), fmp.WithLogger(lgr.With(logger.String("component", "fmp"))))
}

func ProvideMarketDataCache(cfg *config.Config, upstream *fmp.Client, store cache.Service, m repository.Metrics, lgr *logger.Logger) *marketdata.Cache {
	return marketdata.NewCache(upstream, store,
		marketdata.WithTTL(marketdata.Historical, cfg.Cache.HistoricalTTL),
		marketdata.WithTTL(marketdata.Realtime, cfg.Cache.RealtimeTTL),
		marketdata.WithCoalescing(cfg.CoalesceEnabled()),
		marketdata.WithMetrics(m),
		marketdata.WithLogger(lgr.With(logger.String("component", "marketdata"))),
	)
}

// ProvideOrchestrator runs the Python workers. The API key flag is redacted
// from logged command lines.
func ProvideOrchestrator(cfg *config.Config, m repository.Metrics, tracer trace.Tracer, lgr *logger.Logger) *worker.Orchestrator {
	runner := process.NewRunner(
		process.WithLogger(lgr.With(logger.String("component", "process"))),
		process.WithStderrLimit(cfg.Worker.StderrLimit),
		process.WithRedactedFlags("--api_key"),
	)
	return worker.New(runner, worker.Config{
		Interpreter:   cfg.Worker.PythonPath,
		ScriptDir:     cfg.Worker.ScriptDir,
		ModelDir:      cfg.Worker.ModelDir,
		APIKey:        cfg.FMP.APIKey,
		TrainTimeout:  cfg.Worker.TrainTimeout,
		SignalTimeout: cfg.Worker.SignalTimeout,
	},
		worker.WithLogger(lgr.With(logger.String("component", "worker"))),
		worker.WithMetrics(m),
		worker.WithTracer(tracer),
	)
}

// ProvideKafkaProducer returns nil unless kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideClickHouseClient returns nil unless clickhouse is enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSignalHistory creates the history table. It returns nil without
// ClickHouse.
func ProvideSignalHistory(ch *pkgch.Client) (repository.SignalHistory, error) {
	if ch == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history := internalrepo.NewClickHouseSignalHistory(ch)
	if err := history.Init(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return history, nil
}

func ProvideLifecycle(models repository.ModelRepository, events repository.EventPublisher, m repository.Metrics, lgr *logger.Logger) *usecase.Lifecycle {
	return usecase.NewLifecycle(models, events, m, lgr)
}

func ProvideTrainJob(orch *worker.Orchestrator, lifecycle *usecase.Lifecycle, lgr *logger.Logger) *usecase.TrainJob {
	return usecase.NewTrainJob(orch, lifecycle, lgr)
}

// ProvideTrainingQueue builds the queue named by queue.backend with the
// training job registered.
func ProvideTrainingQueue(cfg *config.Config, rdb *redis.Client, job *usecase.TrainJob, lgr *logger.Logger) queue.Queue {
	qcfg := queue.Config{
		Name:       cfg.Queue.Name,
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.Size,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	var q queue.Queue
	if cfg.Queue.Backend == "redis" {
		q = queue.NewRedisQueue(lgr, qcfg, rdb, queue.WithKeyPrefix("signallab:queue"))
	} else {
		q = queue.NewMemoryQueue(lgr, qcfg)
	}
	q.RegisterJob(job)
	return q
}

func ProvideTrainingService(models repository.ModelRepository, lifecycle *usecase.Lifecycle, q queue.Queue, lgr *logger.Logger) *usecase.TrainingService {
	return usecase.NewTrainingService(models, lifecycle, q, lgr)
}

func ProvideSignalService(
	cfg *config.Config,
	models repository.ModelRepository,
	signals repository.SignalRepository,
	orch *worker.Orchestrator,
	history repository.SignalHistory,
	events repository.EventPublisher,
	lgr *logger.Logger,
) *usecase.SignalService {
	opts := []usecase.SignalOption{
		usecase.WithSignalEvents(events),
		usecase.WithMaxConcurrentSignals(cfg.Worker.MaxConcurrentSignals),
	}
	if history != nil {
		opts = append(opts, usecase.WithSignalHistory(history, cfg.Kafka.Consumer.Enabled))
	}
	return usecase.NewSignalService(models, signals, orch, lgr, opts...)
}

func ProvideModelService(models repository.ModelRepository, signals repository.SignalRepository, lgr *logger.Logger) *usecase.ModelService {
	return usecase.NewModelService(models, signals, lgr)
}

func ProvideAuthService(cfg *config.Config, users repository.UserRepository) *usecase.AuthService {
	return usecase.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
}

func ProvideSignalHistoryHandler(cfg *config.Config, history repository.SignalHistory, m repository.Metrics) *usecase.SignalHistoryHandler {
	if history == nil {
		return nil
	}
	return usecase.NewSignalHistoryHandler(cfg.Kafka.Topic, history, m)
}

// ProvideKafkaConsumer returns nil unless kafka.consumer is enabled.
func ProvideKafkaConsumer(cfg *config.Config, lgr *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(lgr,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideStaleMonitor(cfg *config.Config, models repository.ModelRepository, m repository.Metrics, lgr *logger.Logger) *usecase.StaleTrainingMonitor {
	return usecase.NewStaleTrainingMonitor(models, m, lgr, cfg.Lifecycle.StaleAfter, cfg.Lifecycle.CheckInterval)
}

// ProvideHandlers assembles every route group behind one token check.
func ProvideHandlers(
	cfg *config.Config,
	auth *usecase.AuthService,
	modelSvc *usecase.ModelService,
	training *usecase.TrainingService,
	signals *usecase.SignalService,
	prices *marketdata.Cache,
	limiter *ratelimit.Limiter,
	mongo *mongodb.Client,
	rdb *redis.Client,
	history repository.SignalHistory,
	lgr *logger.Logger,
) []xhttp.Handler {
	requireToken := middleware.Auth(auth.ParseToken)

	checks := map[string]api.HealthCheck{}
	if mongo != nil {
		checks["mongo"] = mongo.Health
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if history != nil {
		checks["clickhouse"] = history.Health
	}

	return []xhttp.Handler{
		api.NewHealthHandler(checks),
		api.NewAuthHandler(auth, lgr),
		api.NewModelsHandler(modelSvc, training, signals, requireToken, lgr),
		api.NewDataHandler(prices, signals, requireToken, limiter,
			api.RateBudget{Burst: cfg.Server.RateBurst, PerSec: cfg.Server.RatePerSec}, lgr),
	}
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, lgr *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(lgr, handlers,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.AllowOrigins...),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
		xhttp.WithMetrics(cfg.Metrics.Enabled, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
}

// ProvideApp creates the application server. Clients are closed in reverse
// order of their dependents: the log collector flushes through the producer
// the event publisher owns.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	httpServer *xhttp.Server,
	q queue.Queue,
	consumer *pkgkafka.Consumer,
	historyHandler *usecase.SignalHistoryHandler,
	monitor *usecase.StaleTrainingMonitor,
	collector *logger.Collector,
	events repository.EventPublisher,
	store cache.Service,
	rdb *redis.Client,
	ch *pkgch.Client,
	mongo *mongodb.Client,
	tp *sdktrace.TracerProvider,
) *server.App {
	opts := []server.Option{server.WithStaleMonitor(monitor)}
	if consumer != nil && historyHandler != nil {
		opts = append(opts, server.WithConsumer(consumer, historyHandler))
	}

	var closers []server.Closer
	if collector != nil {
		closers = append(closers, server.Closer{Name: "log collector", Close: func(context.Context) error {
			collector.Close()
			return nil
		}})
	}
	closers = append(closers,
		server.CloserOf("event publisher", events),
		server.CloserOf("cache store", store),
	)
	if rdb != nil {
		closers = append(closers, server.CloserOf("redis", rdb))
	}
	if ch != nil {
		closers = append(closers, server.CloserOf("clickhouse", ch))
	}
	if mongo != nil {
		closers = append(closers, server.CloserOf("mongo", mongo))
	}
	if tp != nil {
		closers = append(closers, server.Closer{Name: "tracer provider", Close: tp.Shutdown})
	}
	return server.New(cfg, lgr, httpServer, q, append(opts, server.WithClosers(closers...))...)
}
