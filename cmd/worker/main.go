package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/authbatch/internal/config"
	"github.com/kursadbilgin/authbatch/internal/credentials"
	"github.com/kursadbilgin/authbatch/internal/handler"
	"github.com/kursadbilgin/authbatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/authbatch/internal/infra/redis"
	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"github.com/kursadbilgin/authbatch/internal/ratelimit"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"github.com/kursadbilgin/authbatch/internal/service"
	"github.com/kursadbilgin/authbatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	consumerPrefetch = 1
	stallScanLimit   = 100
	shutdownTimeout  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultOptions())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	ledger, err := infraredis.NewChunkLedger(rdb)
	if err != nil {
		logger.Fatal("chunk ledger initialization failed", zap.Error(err))
	}

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RateLimitPerSec > 0 {
		quota, err := infraredis.NewQuotaLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("quota limiter initialization failed", zap.Error(err))
		}
		limiter = quota
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	resolver, err := credentials.NewFileResolver(repository.NewGormProjectRepo(db), cfg.CredentialsDir, logger)
	if err != nil {
		logger.Fatal("credential resolver initialization failed", zap.Error(err))
	}

	worker, err := service.NewWorkerService(
		batchRepo,
		consumer,
		publisher,
		resolver,
		provider.NewFactory(cfg.IdentityToolkitURL),
		ledger,
		limiter,
		cfg.Engine(),
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	reaper, err := service.NewStallReaper(batchRepo, cfg.StallScanInterval, cfg.StallTimeout, stallScanLimit, logger)
	if err != nil {
		logger.Fatal("stall reaper initialization failed", zap.Error(err))
	}
	reaper.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(ops,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck(mq.Ping),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return reaper.Start(groupCtx)
	})
	g.Go(func() error {
		return ops.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return ops.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("authbatch worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("rateLimitPerSec", cfg.RateLimitPerSec),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("authbatch worker stopped")
}
