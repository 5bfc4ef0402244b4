package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

const dateLayout = "2006-01-02"

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// OpenWeather source. The API key is read once at startup.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenWeatherTimeout time.Duration

	// GeocodeCity is queried; MeasureCityLabel is stored. An empty label stores the
	// geocoded candidate name instead.
	GeocodeCity      string
	MeasureCityLabel string

	ScheduleStartDate time.Time
	ScheduleCatchup   bool
	TaskRetries       int
	TaskRetryDelay    time.Duration
	RunTimeout        time.Duration

	DBDriver    string
	DatabaseURL string

	// Geocode cache: "memory", "redis" or "none".
	GeocodeCache     string
	GeocodeCacheSize int
	GeocodeCacheTTL  time.Duration
	RedisAddr        string

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaMeasuresTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	owTimeout, err := parsePositiveDuration("OPENWEATHER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	retryDelay, err := parsePositiveDuration("TASK_RETRY_DELAY", "5m")
	if err != nil {
		return nil, err
	}
	runTimeout, err := parsePositiveDuration("RUN_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("GEOCODE_CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}

	startDate, err := time.Parse(dateLayout, sharedcfg.EnvOrDefault("SCHEDULE_START_DATE", "2023-11-27"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_START_DATE: %w", err)
	}

	catchup, err := parseBool("SCHEDULE_CATCHUP", true)
	if err != nil {
		return nil, err
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}

	retries, err := parseInt("TASK_RETRIES", 0)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, errors.New("invalid TASK_RETRIES: must be >= 0")
	}

	cacheSize, err := parseInt("GEOCODE_CACHE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		return nil, errors.New("invalid GEOCODE_CACHE_SIZE: must be > 0")
	}

	label := "Kharkiv"
	if v, ok := os.LookupEnv("MEASURE_CITY_LABEL"); ok {
		label = v
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		OpenWeatherAPIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		OpenWeatherBaseURL: strings.TrimRight(sharedcfg.EnvOrDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org"), "/"),
		OpenWeatherTimeout: owTimeout,

		GeocodeCity:      sharedcfg.EnvOrDefault("GEOCODE_CITY", "Odesa"),
		MeasureCityLabel: label,

		ScheduleStartDate: startDate,
		ScheduleCatchup:   catchup,
		TaskRetries:       retries,
		TaskRetryDelay:    retryDelay,
		RunTimeout:        runTimeout,

		DBDriver:    sharedcfg.EnvOrDefault("DB_DRIVER", "sqlite"),
		DatabaseURL: sharedcfg.EnvOrDefault("DATABASE_URL", "data/measures.db"),

		GeocodeCache:     sharedcfg.EnvOrDefault("GEOCODE_CACHE", "memory"),
		GeocodeCacheSize: cacheSize,
		GeocodeCacheTTL:  cacheTTL,
		RedisAddr:        sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),

		KafkaEnabled:       kafkaEnabled,
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaMeasuresTopic: sharedcfg.EnvOrDefault("KAFKA_MEASURES_TOPIC", "weather-measures"),
	}

	if cfg.OpenWeatherAPIKey == "" {
		return nil, errors.New("OPENWEATHER_API_KEY is required")
	}
	if strings.TrimSpace(cfg.GeocodeCity) == "" {
		return nil, errors.New("GEOCODE_CITY is required")
	}
	switch cfg.DBDriver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want sqlite or pgx", cfg.DBDriver)
	}
	switch cfg.GeocodeCache {
	case "memory", "redis", "none":
	default:
		return nil, fmt.Errorf("invalid GEOCODE_CACHE %q: want memory, redis or none", cfg.GeocodeCache)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaMeasuresTopic == "" {
		return nil, errors.New("KAFKA_MEASURES_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
