package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/automation"
	"github.com/angelmondragon/orderflow-backend/internal/bulk"
	"github.com/angelmondragon/orderflow-backend/internal/cron"
	"github.com/angelmondragon/orderflow-backend/internal/history"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/realtime"
	"github.com/angelmondragon/orderflow-backend/internal/workflow"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(cfg.App.LoggerOptions(lockName))

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	cronMetrics := metrics.NewCronMetrics(prometheus.DefaultRegisterer)
	workflowMetrics := metrics.NewWorkflowMetrics(prometheus.DefaultRegisterer)

	// Automation notifications only reach API subscribers through a shared backend.
	manager, err := realtime.NewFromConfig(cfg.Realtime, redisClient, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime manager", err)
		os.Exit(1)
	}
	defer manager.Cleanup()
	if cfg.Realtime.Backend != realtime.BackendRedis {
		logg.Warn(context.Background(), "realtime backend is not shared; automation notifications stay in this process")
	}

	notifier, err := notifications.NewRouter(notifications.RouterParams{
		Transport: manager,
		Browser:   notifications.NewTransportBrowserNotifier(manager),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification router", err)
		os.Exit(1)
	}

	recorder, err := history.NewRecorder(dbClient, history.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create history recorder", err)
		os.Exit(1)
	}

	automationRepo := automation.NewRepository(dbClient.DB())
	scheduler, err := automation.NewScheduler(automationRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create automation scheduler", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	outboxStore := outbox.NewStore(dbClient.DB(), logg)

	engine, err := workflow.NewEngine(workflow.EngineParams{
		DB:        dbClient,
		Orders:    ordersRepo,
		Outbox:    outboxStore,
		History:   recorder,
		Notifier:  notifier,
		Changes:   manager,
		Scheduler: scheduler,
		Logger:    logg,
		Metrics:   workflowMetrics,
		Config:    cfg.Workflow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create workflow engine", err)
		os.Exit(1)
	}

	dispatchJob, err := automation.NewDispatchJob(automation.DispatchJobParams{
		Logger:            logg,
		Repository:        automationRepo,
		Orders:            ordersRepo,
		Engine:            engine,
		Notifier:          notifier,
		Metrics:           workflowMetrics,
		BatchSize:         cfg.Cron.AutomationBatchSize,
		AutoCompleteAfter: cfg.Workflow.AutoCompleteAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create automation job", err)
		os.Exit(1)
	}

	historyJob, err := cron.NewHistoryCleanupJob(cron.HistoryCleanupJobParams{
		Logger:    logg,
		Recorder:  recorder,
		Retention: cfg.History.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create history cleanup job", err)
		os.Exit(1)
	}

	batchJob, err := cron.NewBatchRetentionJob(cron.BatchRetentionJobParams{
		Logger:      logg,
		Batches:     bulk.NewRepository(dbClient.DB()),
		Automations: automationRepo,
		Retention:   cfg.Bulk.BatchRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create batch retention job", err)
		os.Exit(1)
	}

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		Outbox:    outboxStore,
		Retention: cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(dispatchJob, historyJob, batchJob, outboxJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockName+":"+envOrLocal(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
		"lock":        lock.Key(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
