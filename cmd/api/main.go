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
	"github.com/kursadbilgin/authbatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/authbatch/internal/infra/redis"
	"github.com/kursadbilgin/authbatch/internal/observability"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/queue"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"github.com/kursadbilgin/authbatch/internal/service"
	"github.com/kursadbilgin/authbatch/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	projectRepo := repository.NewGormProjectRepo(db)

	resolver, err := credentials.NewFileResolver(projectRepo, cfg.CredentialsDir, logger)
	if err != nil {
		logger.Fatal("credential resolver initialization failed", zap.Error(err))
	}

	engineCfg := cfg.Engine()
	batchSvc, err := service.NewBatchService(batchRepo, resolver, provider.NewFactory(cfg.IdentityToolkitURL), publisher, engineCfg, logger)
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	batchSvc.SetMetrics(metrics)

	projectSvc, err := service.NewProjectService(projectRepo, logger)
	if err != nil {
		logger.Fatal("project service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    32 * 1024 * 1024,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.BrokerCheck(mq.Ping),
	)
	if err := handler.RegisterProjectRoutes(app, projectSvc); err != nil {
		logger.Fatal("project routes registration failed", zap.Error(err))
	}

	importCap := engineCfg.EnumerationCap
	if importCap <= 0 {
		importCap = service.DefaultEnumerationCap
	}
	if err := handler.RegisterBatchRoutes(app, batchSvc, importCap); err != nil {
		logger.Fatal("batch routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("authbatch api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Error("api server stopped with error", zap.Error(err))
	}
	logger.Info("authbatch api stopped")
}
