package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

const service = "outbox-publisher"

const usage = `usage: outbox-publisher [flags] [command]

commands:
  run                  relay outbox events to Pub/Sub (default)
  dead-letters         list parked events, newest first
  replay <event-id>    queue a parked event again
`

func main() {
	limit := flag.Int("limit", 50, "rows listed by dead-letters")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "run"
	}

	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = service
	logg = logger.New(cfg.App.LoggerOptions(service))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": service,
		"command":     command,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	store := outbox.NewStore(dbClient.DB(), logg)

	switch command {
	case "run":
		err = run(ctx, cfg, logg, dbClient, store)
	case "dead-letters":
		err = listDeadLetters(ctx, store, *limit)
	case "replay":
		err = replay(ctx, logg, store, flag.Arg(1))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, service+" failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, store *outbox.Store) error {
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	router, err := outbox.NewRouter(outbox.DomainRoutes(cfg.PubSub.DomainTopic)...)
	if err != nil {
		return fmt.Errorf("build event router: %w", err)
	}
	relay, err := NewRelay(RelayParams{
		Logger:  logg,
		DB:      dbClient,
		Store:   store,
		Router:  router,
		Sender:  client,
		Metrics: metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Config:  cfg.Outbox,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox relay")
	err = relay.Run(ctx)
	logg.Info(ctx, "outbox relay shutting down")
	return err
}

func listDeadLetters(ctx context.Context, store *outbox.Store, limit int) error {
	letters, err := store.DeadLetters(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tAGGREGATE\tREASON\tATTEMPTS\tPARKED AT\tLAST ERROR")
	for _, l := range letters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.EventID, l.EventType, l.AggregateID, l.Reason, l.Attempts, l.ParkedAt.Format(time.RFC3339), l.LastError)
	}
	return w.Flush()
}

func replay(ctx context.Context, logg *logger.Logger, store *outbox.Store, raw string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("replay needs an event id: %w", err)
	}
	if err := store.Replay(ctx, id); err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "event_id", id.String()), "dead letter queued for replay")
	return nil
}
