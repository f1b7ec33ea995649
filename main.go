package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/carson-networks/ledger-server/api"
	"github.com/carson-networks/ledger-server/internal/config"
	"github.com/carson-networks/ledger-server/internal/idempotency"
	"github.com/carson-networks/ledger-server/internal/lock"
	"github.com/carson-networks/ledger-server/internal/logging"
	"github.com/carson-networks/ledger-server/internal/operator"
	"github.com/carson-networks/ledger-server/internal/outbox"
	"github.com/carson-networks/ledger-server/internal/reconcile"
	"github.com/carson-networks/ledger-server/internal/service"
	"github.com/carson-networks/ledger-server/internal/storage"
	"github.com/carson-networks/ledger-server/internal/storage/memory"
	"github.com/carson-networks/ledger-server/internal/storage/postgres"
	"github.com/carson-networks/ledger-server/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envConfig, err := config.ProcessEnvironmentVariables()
	if err != nil {
		logrus.WithError(err).Fatal("config.ProcessEnvironmentVariables")
		return
	}

	logger := logging.SetupLogging(envConfig.LogLevel)
	logger.Info("ledger-server starting")

	metrics, metricsHandler, shutdownMetrics, err := telemetry.Setup()
	if err != nil {
		logger.WithError(err).Fatal("telemetry.Setup")
		return
	}

	store, err := openStorage(envConfig)
	if err != nil {
		logger.WithError(err).Fatal("storage.Open")
		return
	}

	var (
		redisClient *redis.Client
		cache       *idempotency.Cache
		locker      lock.Acquirer
	)
	if envConfig.LockBackend == config.LockBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr: envConfig.RedisAddress,
			DB:   envConfig.RedisDB,
		})
		cache = idempotency.NewCache(redisClient, "ledger:idempotency:")
		locker = lock.NewRedisAcquirer(redisClient, lock.DefaultRedisOptions(), logger)
	}

	delegator := operator.NewOperatorDelegator(store, envConfig.OperatorWorkers, logger)
	delegator.Start()

	svc := service.NewService(service.Dependencies{
		Storage:     store,
		Operator:    delegator,
		Guard:       idempotency.NewGuard(envConfig.IdempotencyTTL, cache, logger),
		Coordinator: lock.NewCoordinator(envConfig.LockTimeout),
		Locker:      locker,
		Metrics:     metrics,
		Logger:      logger,
	})

	publisher, closePublisher, err := newPublisher(envConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("outbox.NewPublisher")
		return
	}

	relay := outbox.NewRelay(store.Outbox(), publisher, outbox.Config{
		Interval:        envConfig.OutboxInterval,
		BatchSize:       envConfig.OutboxBatchSize,
		LeaseTimeout:    envConfig.OutboxLeaseTimeout,
		PublishAttempts: outbox.DefaultConfig().PublishAttempts,
		PublishBackoff:  outbox.DefaultConfig().PublishBackoff,
		MaxAttempts:     envConfig.OutboxMaxAttempts,
		RetryBase:       envConfig.OutboxRetryBase,
		RetryMax:        envConfig.OutboxRetryMax,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay.Start(ctx)

	var reconciler *reconcile.Reconciler
	if envConfig.ReconcileInterval > 0 {
		reconciler = reconcile.NewReconciler(store.Reader().Accounts(), envConfig.ReconcileInterval, logger, metrics)
		reconciler.Start(ctx)
	}

	httpRest := &api.Rest{
		Logger:  logger,
		Port:    envConfig.HTTPPort,
		Service: svc,
		Storage: store,
		Metrics: metricsHandler,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpRest.Serve()
	}()

	select {
	case <-ctx.Done():
		logger.Info("ledger-server shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("HttpServer.Serve")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpRest.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HttpServer.Shutdown")
	}
	relay.Stop()
	if reconciler != nil {
		reconciler.Stop()
	}
	stop()

	delegator.Stop()

	if err := closePublisher(); err != nil {
		logger.WithError(err).Warn("outbox.Publisher.Close")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("redis.Close")
		}
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("storage.Close")
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.WithError(err).Warn("telemetry.Shutdown")
	}
	logger.Info("ledger-server stopped")
}

func openStorage(envConfig *config.Config) (storage.Storage, error) {
	if envConfig.StorageBackend == config.StorageBackendMemory {
		return memory.New(), nil
	}
	dsn := postgres.DSN(
		envConfig.PostgresAddress,
		envConfig.PostgresPort,
		envConfig.PostgresDB,
		envConfig.PostgresUsername,
		envConfig.PostgresPassword,
	)
	return postgres.Open(dsn, postgres.Options{
		LockTimeout:     envConfig.LockTimeout,
		MaxOpenConns:    envConfig.PostgresMaxConns,
		MaxIdleConns:    envConfig.PostgresMaxConns / 2,
		ConnMaxLifetime: 30 * time.Minute,
	})
}

// newPublisher returns the configured broker wrapped in a circuit breaker.
func newPublisher(envConfig *config.Config, logger *logrus.Logger) (outbox.Publisher, func() error, error) {
	var (
		next      outbox.Publisher
		closeNext = func() error { return nil }
	)
	switch envConfig.OutboxPublisher {
	case config.PublisherRabbitMQ:
		rabbit, err := outbox.NewRabbitPublisher(outbox.RabbitConfig{
			URL:            envConfig.RabbitMQURL,
			Exchange:       envConfig.RabbitMQExchange,
			ConfirmTimeout: 5 * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		next, closeNext = rabbit, rabbit.Close
	default:
		next = outbox.NewLogPublisher(logger)
	}

	return outbox.NewBreakerPublisher(next, outbox.BreakerSettings{
		Name:                envConfig.OutboxPublisher,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}, logger), closeNext, nil
}
