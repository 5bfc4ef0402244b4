// Command runonce executes the measures pipeline for a single logical date and
// exits non-zero when the run fails.
//
// Usage:
//
//	go run ./cmd/runonce -date 2023-11-27
//	go run ./cmd/runonce -init
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/weather-measures-etl/internal/adapter/sqlstore"
	"github.com/couchcryptid/weather-measures-etl/internal/app"
	"github.com/couchcryptid/weather-measures-etl/internal/config"
	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/couchcryptid/weather-measures-etl/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	date := flag.String("date", "", "logical date to run, YYYY-MM-DD (default: yesterday UTC)")
	initOnly := flag.Bool("init", false, "create the database schema and exit")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*date, *initOnly); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(date string, initOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if initOnly {
		return initSchema(ctx)
	}

	logicalDate := domain.LogicalDay(time.Now()).AddDate(0, 0, -1)
	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return fmt.Errorf("invalid -date %q: %w", date, err)
		}
		logicalDate = d
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)

	a, err := app.New(ctx, cfg, nil, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	result, runErr := a.Pipeline.Run(ctx, pipeline.RunRequest{LogicalDate: logicalDate, Type: domain.RunManual})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return runErr
}

// initSchema needs only the database settings, so it skips full config validation.
func initSchema(ctx context.Context) error {
	driver := sharedcfg.EnvOrDefault("DB_DRIVER", sqlstore.DriverSQLite)
	dsn := sharedcfg.EnvOrDefault("DATABASE_URL", "data/measures.db")

	db, err := sqlstore.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlstore.InitSchema(ctx, db, driver); err != nil {
		return err
	}
	slog.Info("schema ready", "driver", driver)
	return nil
}
