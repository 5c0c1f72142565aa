package di

import (
	"context"
	"fmt"
	"time"

	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/domain/service"
	"SignalDesk/internal/handler/api"
	internalrepo "SignalDesk/internal/repository"
	"SignalDesk/internal/service/ratelimit"
	"SignalDesk/internal/services/strategysvc"
	"SignalDesk/internal/usecase"
	"SignalDesk/pkg/cache"
	pkgch "SignalDesk/pkg/clickhouse"
	"SignalDesk/pkg/config"
	pkgkafka "SignalDesk/pkg/kafka"
	applogger "SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
	"SignalDesk/pkg/server"
	"SignalDesk/pkg/ws"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideCacheStore builds the signal cache backend selected in config.
func ProvideCacheStore(cfg *config.Config) (cache.Service, error) {
	if cfg.Cache.Backend == "memory" {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)), nil
	}

	rc, err := cache.NewRedisCache(context.Background(), cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Backend == "layered" {
		return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize)), nil
	}
	return rc, nil
}

// ProvideSignalCache wraps the backend in a per-instance namespace.
func ProvideSignalCache(store cache.Service, m repository.Metrics, cfg *config.Config) *usecase.SignalCache {
	return usecase.NewSignalCache(store,
		usecase.WithCacheTTL(cfg.Cache.TTL),
		usecase.WithCacheMetrics(m),
	)
}

// ProvideStrategyService creates the remote strategy service client.
func ProvideStrategyService(cfg *config.Config) service.StrategyService {
	return strategysvc.New(cfg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
// The producer also receives the aggregated error log stream.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		ReadTimeout:  cfg.Kafka.Producer.ReadTimeout,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchBytes:   cfg.Kafka.Producer.BatchBytes,
		BatchTimeout: cfg.Kafka.Producer.Linger,
		Async:        cfg.Kafka.Producer.Async,
		HashByKey:    true,
		Registerer:   prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Kafka.LogTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      producer,
		})
	}
	return producer, nil
}

// ProvideHub creates the websocket event hub.
func ProvideHub() *ws.Hub {
	return ws.NewHub(64)
}

// ProvideEventPublisher fans events out to websocket clients and, when
// enabled, to Kafka.
func ProvideEventPublisher(producer *pkgkafka.Producer, hub *ws.Hub, cfg *config.Config) repository.EventPublisher {
	pubs := internalrepo.FanoutPublisher{internalrepo.NewHubEventPublisher(hub)}
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic))
	}
	return pubs
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx, pkgch.ClientConfig{
		Host:         cfg.ClickHouse.Host,
		Port:         cfg.ClickHouse.Port,
		Database:     cfg.ClickHouse.Database,
		User:         cfg.ClickHouse.User,
		Password:     cfg.ClickHouse.Password,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		ReadTimeout:  cfg.ClickHouse.ReadTimeout,
		WriteTimeout: cfg.ClickHouse.WriteTimeout,
		UseHTTP:      cfg.ClickHouse.UseHTTP,
		AsyncInsert:  cfg.ClickHouse.AsyncInsert,
		WaitForAsync: cfg.ClickHouse.WaitForAsync,
		MaxExecTime:  cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideReportStore creates the backtest archive, or nil without ClickHouse.
func ProvideReportStore(ch *pkgch.Client, l *applogger.Logger) (repository.ReportStore, error) {
	if ch == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := internalrepo.NewCHReportStore(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	store.SetLogger(l.With(applogger.String("component", "reports")))
	return store, nil
}

// ProvidePresetStore opens the preset database, or nil when disabled.
func ProvidePresetStore(cfg *config.Config) (repository.PresetStore, error) {
	if !cfg.Presets.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := internalrepo.NewSQLitePresetStore(ctx, cfg.Presets.Path)
	if err != nil {
		return nil, fmt.Errorf("preset store: %w", err)
	}
	return store, nil
}

// ProvideEngine assembles the engine.
func ProvideEngine(
	cfg *config.Config,
	svc service.StrategyService,
	sc *usecase.SignalCache,
	events repository.EventPublisher,
	reports repository.ReportStore,
	presets repository.PresetStore,
	l *applogger.Logger,
	m repository.Metrics,
) *usecase.Engine {
	return usecase.NewEngine(usecase.EngineDeps{
		Service: svc,
		Cache:   sc,
		Events:  events,
		Reports: reports,
		Presets: presets,
		Logger:  l,
		Metrics: m,
	}, usecase.EngineConfig{
		DefaultTimeframe: cfg.Engine.DefaultTimeframe,
		DefaultWeight:    cfg.Engine.DefaultWeight,
		Controller: usecase.ControllerConfig{
			RefetchAttempts: cfg.StrategyService.RefetchAttempts,
			RefetchBackoff:  cfg.StrategyService.RefetchBackoff,
			TeardownOnEmpty: cfg.Engine.TeardownOnEmpty,
			DefaultRuns:     cfg.Engine.OptimizeRuns,
		},
	})
}

// ProvideRateLimiter creates the inbound per-client limiter.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideHandler creates the dashboard REST handler.
func ProvideHandler(l *applogger.Logger, engine *usecase.Engine, hub *ws.Hub) *api.EngineEchoHandler {
	return api.NewEngineEchoHandler(l.With(applogger.String("component", "api")), engine, hub)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	handler *api.EngineEchoHandler,
	limiter *ratelimit.Limiter,
	store cache.Service,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
) *server.App {
	opts := []server.Option{server.WithCloser("signal cache", store)}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
	}
	if chClient != nil {
		opts = append(opts, server.WithCloser("clickhouse", chClient))
	}
	return server.New(cfg, l, engine, handler, limiter, opts...)
}
