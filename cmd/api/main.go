package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/sms-dispatch/internal/config"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/handler"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/sms-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"github.com/kursadbilgin/sms-dispatch/internal/secrets"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger)
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	cipher, err := secrets.NewCipher(cfg.SecretsMasterKey, cfg.SecretsSigningKey)
	if err != nil {
		logger.Fatal("secrets cipher initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	providers := repository.NewGormProviderRepo(db)
	smsLogs := repository.NewGormSMSLogRepo(db)

	throughput, err := infraredis.NewThroughputLimiter(rdb, cfg.ProviderRatePerSec)
	if err != nil {
		logger.Fatal("throughput limiter initialization failed", zap.Error(err))
	}

	ledger := provider.NewMockLedger()
	factory := func(ctx context.Context, pc domain.ProviderConfig, creds domain.Credentials) (provider.Adapter, error) {
		return provider.New(ctx, pc, creds, provider.Options{Logger: logger, Ledger: ledger})
	}

	manager, err := service.NewProviderManager(providers, cipher, factory, throughput, service.ManagerOptions{
		SendTimeout:     cfg.SendTimeout(),
		FailoverEnabled: cfg.FailoverEnabled,
	}, logger)
	if err != nil {
		logger.Fatal("provider manager initialization failed", zap.Error(err))
	}
	manager.SetMetrics(metrics)

	windowLimiter, err := infraredis.NewWindowLimiter(rdb)
	if err != nil {
		logger.Fatal("window limiter initialization failed", zap.Error(err))
	}
	memoryLimiter := ratelimit.NewMemoryLimiter()
	limiter, err := ratelimit.NewFailoverLimiter(windowLimiter, memoryLimiter, logger)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	limiter.SetMetrics(metrics)

	rules := ratelimit.NewRules(cfg.PhoneDailyLimit, cfg.IPHourlyLimit, cfg.VerifyAttemptLimit, cfg.VerifyWindow(), cfg.AddressLimit)

	deliveryLog, err := service.NewDeliveryLog(smsLogs, cfg.LogRetention(), logger)
	if err != nil {
		logger.Fatal("delivery log initialization failed", zap.Error(err))
	}
	deliveryLog.SetMetrics(metrics)

	smsService, err := service.NewSMSService(manager, limiter, rules, deliveryLog, logger)
	if err != nil {
		logger.Fatal("sms service initialization failed", zap.Error(err))
	}
	smsService.SetMetrics(metrics)

	admin, err := service.NewProviderAdmin(providers, cipher, manager, logger)
	if err != nil {
		logger.Fatal("provider admin initialization failed", zap.Error(err))
	}

	if cfg.ProvidersSeedFile != "" {
		if err := seedProviders(ctx, admin, cfg.ProvidersSeedFile); err != nil {
			logger.Fatal("provider seed failed", zap.String("file", cfg.ProvidersSeedFile), zap.Error(err))
		}
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.DLRWorkerConcurrency, logger)

	dlrWorker, err := service.NewDLRWorker(consumer, manager, deliveryLog, cfg.DLRWorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("dlr worker initialization failed", zap.Error(err))
	}
	dlrWorker.SetMetrics(metrics)

	sweeper, err := service.NewRetentionSweeper(deliveryLog, cfg.RetentionSweepInterval(), 0, logger)
	if err != nil {
		logger.Fatal("retention sweeper initialization failed", zap.Error(err))
	}

	balanceMonitor, err := service.NewBalanceMonitor(providers, manager, cfg.BalanceCheckInterval(), logger)
	if err != nil {
		logger.Fatal("balance monitor initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "sms-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(observability.RequestIDMiddleware())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": rabbit.Ping,
	})
	if err := registerRoutes(app, smsService, admin, manager, publisher, logger); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return memoryLimiter.Start(gctx) })
	g.Go(func() error { return dlrWorker.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })
	g.Go(func() error { return balanceMonitor.Start(gctx) })

	g.Go(func() error {
		logger.Info("sms-dispatch api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sms-dispatch api stopped with error", zap.Error(err))
		return
	}
	logger.Info("sms-dispatch api stopped")
}

func registerRoutes(
	app *fiber.App,
	sms handler.SMSService,
	admin handler.ProviderAdminService,
	checker handler.ProviderChecker,
	publisher queue.Publisher,
	logger *zap.Logger,
) error {
	if err := handler.RegisterSMSRoutes(app, sms); err != nil {
		return err
	}
	if err := handler.RegisterProviderRoutes(app, admin, checker); err != nil {
		return err
	}
	return handler.RegisterWebhookRoutes(app, publisher, logger)
}

func seedProviders(ctx context.Context, admin *service.ProviderAdmin, path string) error {
	seeds, err := config.LoadProviderSeed(path)
	if err != nil {
		return err
	}
	_, err = admin.Seed(ctx, seeds)
	return err
}
