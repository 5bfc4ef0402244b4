package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/sony/gobreaker"
)

const (
	geocodePath     = "/geo/1.0/direct"
	timemachinePath = "/data/3.0/onecall/timemachine"

	endpointGeocode     = "geocode"
	endpointTimemachine = "timemachine"
)

// Client implements domain.Geocoder and domain.WeatherSource against the OpenWeather API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an OpenWeather client. baseURL has no trailing slash,
// e.g. "https://api.openweathermap.org".
func NewClient(apiKey, baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: newBreaker("openweather", logger),
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode resolves a city name to the candidates returned by the direct geocoding endpoint.
// An empty result is not an error here; callers decide what no match means.
func (c *Client) Geocode(ctx context.Context, city string) ([]domain.Location, error) {
	params := url.Values{
		"q":     {city},
		"appid": {c.apiKey},
	}

	var locations []domain.Location
	if err := c.get(ctx, endpointGeocode, geocodePath, params, &locations); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", city, err)
	}
	return locations, nil
}

// Snapshot fetches historical weather for the coordinates at the given instant,
// sent as unix seconds.
func (c *Client) Snapshot(ctx context.Context, lat, lon float64, at time.Time) (domain.WeatherSnapshot, error) {
	params := url.Values{
		"lat":   {formatCoord(lat)},
		"lon":   {formatCoord(lon)},
		"dt":    {strconv.FormatInt(at.Unix(), 10)},
		"appid": {c.apiKey},
	}

	var snapshot domain.WeatherSnapshot
	if err := c.get(ctx, endpointTimemachine, timemachinePath, params, &snapshot); err != nil {
		return domain.WeatherSnapshot{}, fmt.Errorf("timemachine lat=%s lon=%s dt=%d: %w",
			params.Get("lat"), params.Get("lon"), at.Unix(), err)
	}
	return snapshot, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
		c.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return err
	}

	c.logger.Debug("openweather response",
		"endpoint", endpoint,
		"status", status,
		"body", string(body),
	)

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// formatCoord renders a coordinate with the shortest exact representation.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
