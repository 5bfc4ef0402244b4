// Package app wires configuration into the adapters and the pipeline.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	kafkaadapter "github.com/couchcryptid/weather-measures-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-measures-etl/internal/adapter/openweather"
	redisadapter "github.com/couchcryptid/weather-measures-etl/internal/adapter/redis"
	"github.com/couchcryptid/weather-measures-etl/internal/adapter/sqlstore"
	"github.com/couchcryptid/weather-measures-etl/internal/config"
	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/couchcryptid/weather-measures-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

// App holds the long-lived components of one process.
type App struct {
	DB       *sql.DB
	Measures *sqlstore.MeasureStore
	Runs     *sqlstore.RunStore
	Pipeline *pipeline.Pipeline

	closers []func() error
}

// New opens the store, creates the schema and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	db, err := sqlstore.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{
		DB:       db,
		Measures: sqlstore.NewMeasureStore(db, cfg.DBDriver),
		Runs:     sqlstore.NewRunStore(db, cfg.DBDriver),
		closers:  []func() error{db.Close},
	}

	if err := sqlstore.InitSchema(ctx, db, cfg.DBDriver); err != nil {
		_ = a.Close()
		return nil, err
	}

	client := openweather.NewClient(cfg.OpenWeatherAPIKey, cfg.OpenWeatherBaseURL, cfg.OpenWeatherTimeout, metrics, logger)
	geocoder := a.geocoder(ctx, cfg, client, logger, metrics)

	opts := pipeline.Options{
		City:        cfg.GeocodeCity,
		Label:       cfg.MeasureCityLabel,
		Retries:     cfg.TaskRetries,
		RetryDelay:  cfg.TaskRetryDelay,
		StepTimeout: cfg.RunTimeout,
		Clock:       clock,
	}
	if cfg.KafkaEnabled {
		pub := kafkaadapter.NewMeasurePublisher(cfg, metrics, logger)
		opts.Publisher = pub
		a.closers = append(a.closers, pub.Close)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaMeasuresTopic, "brokers", cfg.KafkaBrokers)
	}

	a.Pipeline = pipeline.New(geocoder, client, a.Measures, a.Runs, opts, logger, metrics)
	logger.Info("pipeline configured",
		"city", cfg.GeocodeCity,
		"label", cfg.MeasureCityLabel,
		"db_driver", cfg.DBDriver,
		"geocode_cache", cfg.GeocodeCache,
	)
	return a, nil
}

func (a *App) geocoder(ctx context.Context, cfg *config.Config, client *openweather.Client, logger *slog.Logger, metrics *observability.Metrics) domain.Geocoder {
	switch cfg.GeocodeCache {
	case "memory":
		return openweather.NewCachedGeocoder(client, cfg.GeocodeCacheSize, metrics)
	case "redis":
		rc := redisadapter.NewClient(cfg.RedisAddr)
		a.closers = append(a.closers, rc.Close)
		cache := redisadapter.NewGeocodeCache(client, rc, cfg.GeocodeCacheTTL, metrics, logger)
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, geocoding will bypass the cache until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		return cache
	default:
		return client
	}
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
