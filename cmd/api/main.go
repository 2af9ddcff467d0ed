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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearline/clearing-engine/internal/config"
	"github.com/clearline/clearing-engine/internal/corebanking"
	"github.com/clearline/clearing-engine/internal/handler"
	"github.com/clearline/clearing-engine/internal/infra/postgresql"
	"github.com/clearline/clearing-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/clearline/clearing-engine/internal/infra/redis"
	"github.com/clearline/clearing-engine/internal/observability"
	"github.com/clearline/clearing-engine/internal/queue"
	"github.com/clearline/clearing-engine/internal/repository"
	"github.com/clearline/clearing-engine/internal/resilience"
	"github.com/clearline/clearing-engine/internal/service"
	"github.com/clearline/clearing-engine/internal/transport"
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

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	executor := resilience.NewExecutor(
		limiter,
		map[string]resilience.Policy{
			service.ServiceCoreBanking: {
				MaxConcurrentCalls: cfg.CoreBankingMaxConcurrent,
				SlidingWindowSize:  cfg.CoreBankingBreakerWindow,
				OpenCooldown:       time.Duration(cfg.CoreBankingBreakerCooldownMs) * time.Millisecond,
				MaxAttempts:        cfg.CoreBankingRetryAttempts,
				CallTimeout:        time.Duration(cfg.CoreBankingCallTimeoutMs) * time.Millisecond,
			},
		},
		corebanking.IsTransient,
		logger,
	)

	adapter, err := corebanking.NewRESTAdapter(cfg.CoreBankingURL)
	if err != nil {
		logger.Fatal("core banking adapter initialization failed", zap.Error(err))
	}

	repairs := repository.NewGormRepairRepo(db)

	orchestrator, err := service.NewOrchestrator(repairs, adapter, executor, logger)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	scheduler, err := service.NewRepairScheduler(
		repairs,
		adapter,
		executor,
		publisher,
		time.Duration(cfg.RepairScanIntervalSec)*time.Second,
		cfg.RepairScanLimit,
		cfg.RepairRetryConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("repair scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	worker, err := service.NewTransferWorker(orchestrator, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("transfer worker initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, executor.Health())
	if err := handler.RegisterTransferRoutes(app, orchestrator); err != nil {
		logger.Fatal("transfer routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterRepairRoutes(app, repairs); err != nil {
		logger.Fatal("repair routes registration failed", zap.Error(err))
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("clearing-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("clearing-engine terminated", zap.Error(err))
	}

	logger.Info("clearing-engine shut down")
}
