package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up                 apply all pending migrations
  down               roll back the latest migration
  status             log the state of every migration
  to <version>       move the schema to YYYYMMDDHHMMSS
  create <name>      write an empty migration into -dir
  validate           check the files in -dir
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	command, arg := flag.Arg(0), flag.Arg(1)
	if command == "" {
		command = "up"
	}

	// create and validate work on files only.
	switch command {
	case "create":
		path, err := migrate.Create(dirOrDefault(*dir), arg, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created", path)
		return
	case "validate":
		exitOn(migrate.ValidateDir(dirOrDefault(*dir)), "validate migrations")
		fmt.Println("migrations valid")
		return
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()
	cfg, err := config.Load()
	exitOn(err, "load config")
	logg = logger.New(cfg.App.LoggerOptions("migrate"))

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": command,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err, "connect database")
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	exitOn(err, "sql handle")

	m, err := migrate.New(sqlDB, *dir, logg)
	exitOn(err, "build migrator")

	switch command {
	case "up":
		err = m.Up(ctx)
	case "down":
		err = m.Down(ctx)
	case "status":
		err = m.Status(ctx)
	case "to":
		if arg == "" {
			err = fmt.Errorf("to needs a version")
			break
		}
		err = m.To(ctx, arg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logg.Error(ctx, "migrate failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migrate done")
}

func dirOrDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "migrate: %s: %v\n", step, err)
	os.Exit(1)
}
