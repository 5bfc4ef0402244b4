package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "geocode:"

// GeocodeCache wraps a Geocoder with a shared Redis cache so several processes
// resolve the city once per TTL.
type GeocodeCache struct {
	inner   domain.Geocoder
	client  goredis.UniversalClient
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient connects to a single Redis node.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

// NewGeocodeCache creates a Redis-backed cache decorator.
func NewGeocodeCache(inner domain.Geocoder, client goredis.UniversalClient, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *GeocodeCache {
	return &GeocodeCache{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode serves from Redis when possible. Redis failures degrade to the inner
// geocoder instead of failing the step.
func (c *GeocodeCache) Geocode(ctx context.Context, city string) ([]domain.Location, error) {
	key := keyPrefix + strings.ToLower(strings.TrimSpace(city))

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var locations []domain.Location
		if jsonErr := json.Unmarshal(data, &locations); jsonErr == nil {
			c.metrics.GeocodeCache.WithLabelValues("redis", "hit").Inc()
			return locations, nil
		}
		c.logger.Warn("discarding corrupt geocode cache entry", "key", key)
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("redis geocode cache get failed", "key", key, "error", err)
	}
	c.metrics.GeocodeCache.WithLabelValues("redis", "miss").Inc()

	locations, err := c.inner.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return locations, nil
	}

	payload, err := json.Marshal(locations)
	if err != nil {
		return locations, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("redis geocode cache set failed", "key", key, "error", err)
	}
	return locations, nil
}

// Ping verifies the connection, for readiness checks at startup.
func (c *GeocodeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
