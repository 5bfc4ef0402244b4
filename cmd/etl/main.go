package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/weather-measures-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/weather-measures-etl/internal/app"
	"github.com/couchcryptid/weather-measures-etl/internal/config"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/couchcryptid/weather-measures-etl/internal/scheduler"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, nil, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(a.Pipeline, a.Runs, scheduler.Settings{
		StartDate: cfg.ScheduleStartDate,
		Catchup:   cfg.ScheduleCatchup,
	}, nil, logger)

	api := httpadapter.NewAPI(ctx, a.Pipeline, a.Runs, a.Measures, nil, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, a.Pipeline, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Catch up on missed logical dates, then hand over to the daily job.
	go func() {
		n, err := sched.Backfill(ctx)
		if err != nil {
			logger.Error("backfill failed", "error", err)
		} else {
			logger.Info("backfill complete", "runs", n)
		}
		a.Pipeline.MarkReady()

		if ctx.Err() != nil {
			return
		}
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
			stop()
			return
		}
		logger.Info("next scheduled run", "at", sched.NextRun())
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	api.Wait()
	if err := a.Close(); err != nil {
		logger.Error("close error", "error", err)
	}

	logger.Info("shutdown complete")
}
