package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/api/routes"
	"github.com/angelmondragon/orderflow-backend/internal/automation"
	"github.com/angelmondragon/orderflow-backend/internal/bulk"
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

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(cfg.App.LoggerOptions("api"))

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

	pool, err := dbClient.SQL()
	if err == nil {
		err = metrics.RegisterDBStats(prometheus.DefaultRegisterer, "orderflow", pool)
	}
	if err != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "database pool metrics unavailable")
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

	workflowMetrics := metrics.NewWorkflowMetrics(prometheus.DefaultRegisterer)
	realtimeMetrics := metrics.NewRealtimeMetrics(prometheus.DefaultRegisterer)

	manager, err := realtime.NewFromConfig(cfg.Realtime, redisClient, logg, realtimeMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime manager", err)
		os.Exit(1)
	}
	defer manager.Cleanup()

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

	scheduler, err := automation.NewScheduler(automation.NewRepository(dbClient.DB()))
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

	coordinator, err := bulk.NewCoordinator(bulk.CoordinatorParams{
		DB:       dbClient,
		Engine:   engine,
		Batches:  bulk.NewRepository(dbClient.DB()),
		Outbox:   outboxStore,
		Notifier: notifier,
		Auditor:  recorder,
		Logger:   logg,
		Metrics:  workflowMetrics,
		Config:   cfg.Bulk,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bulk coordinator", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"realtime": cfg.Realtime.Backend,
	})
	logg.Info(ctx, "starting api server")

	// No WriteTimeout: the event stream holds its response open.
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Workflow: engine,
			Orders:   ordersRepo,
			History:  recorder,
			Realtime: manager,
			Bulk:     coordinator,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}
