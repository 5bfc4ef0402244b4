package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "ow-test-key"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", testAPIKey)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, testAPIKey, cfg.OpenWeatherAPIKey)
	assert.Equal(t, "https://api.openweathermap.org", cfg.OpenWeatherBaseURL)
	assert.Equal(t, 10*time.Second, cfg.OpenWeatherTimeout)

	assert.Equal(t, "Odesa", cfg.GeocodeCity)
	assert.Equal(t, "Kharkiv", cfg.MeasureCityLabel)

	assert.Equal(t, time.Date(2023, time.November, 27, 0, 0, 0, 0, time.UTC), cfg.ScheduleStartDate)
	assert.True(t, cfg.ScheduleCatchup)
	assert.Equal(t, 0, cfg.TaskRetries)
	assert.Equal(t, 5*time.Minute, cfg.TaskRetryDelay)
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "data/measures.db", cfg.DatabaseURL)

	assert.Equal(t, "memory", cfg.GeocodeCache)
	assert.Equal(t, 100, cfg.GeocodeCacheSize)
	assert.Equal(t, 24*time.Hour, cfg.GeocodeCacheTTL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "weather-measures", cfg.KafkaMeasuresTopic)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", testAPIKey)
	t.Setenv("OPENWEATHER_BASE_URL", "http://localhost:9999/")
	t.Setenv("OPENWEATHER_TIMEOUT", "3s")
	t.Setenv("GEOCODE_CITY", "Lviv")
	t.Setenv("MEASURE_CITY_LABEL", "Lviv")
	t.Setenv("SCHEDULE_START_DATE", "2024-01-15")
	t.Setenv("SCHEDULE_CATCHUP", "false")
	t.Setenv("TASK_RETRIES", "2")
	t.Setenv("TASK_RETRY_DELAY", "30s")
	t.Setenv("RUN_TIMEOUT", "1m")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://etl@localhost/measures")
	t.Setenv("GEOCODE_CACHE", "redis")
	t.Setenv("GEOCODE_CACHE_TTL", "1h")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_MEASURES_TOPIC", "measures")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.OpenWeatherBaseURL)
	assert.Equal(t, 3*time.Second, cfg.OpenWeatherTimeout)
	assert.Equal(t, "Lviv", cfg.GeocodeCity)
	assert.Equal(t, "Lviv", cfg.MeasureCityLabel)
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), cfg.ScheduleStartDate)
	assert.False(t, cfg.ScheduleCatchup)
	assert.Equal(t, 2, cfg.TaskRetries)
	assert.Equal(t, 30*time.Second, cfg.TaskRetryDelay)
	assert.Equal(t, time.Minute, cfg.RunTimeout)
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, "postgres://etl@localhost/measures", cfg.DatabaseURL)
	assert.Equal(t, "redis", cfg.GeocodeCache)
	assert.Equal(t, time.Hour, cfg.GeocodeCacheTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "measures", cfg.KafkaMeasuresTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_EmptyLabelIsKept(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", testAPIKey)
	t.Setenv("MEASURE_CITY_LABEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.MeasureCityLabel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing api key", env: map[string]string{"OPENWEATHER_API_KEY": ""}, wantErr: "OPENWEATHER_API_KEY"},
		{name: "bad shutdown timeout", env: map[string]string{"SHUTDOWN_TIMEOUT": "nope"}, wantErr: "SHUTDOWN_TIMEOUT"},
		{name: "bad openweather timeout", env: map[string]string{"OPENWEATHER_TIMEOUT": "-1s"}, wantErr: "OPENWEATHER_TIMEOUT"},
		{name: "bad start date", env: map[string]string{"SCHEDULE_START_DATE": "27/11/2023"}, wantErr: "SCHEDULE_START_DATE"},
		{name: "bad catchup", env: map[string]string{"SCHEDULE_CATCHUP": "sometimes"}, wantErr: "SCHEDULE_CATCHUP"},
		{name: "negative retries", env: map[string]string{"TASK_RETRIES": "-1"}, wantErr: "TASK_RETRIES"},
		{name: "bad retry delay", env: map[string]string{"TASK_RETRY_DELAY": "soon"}, wantErr: "TASK_RETRY_DELAY"},
		{name: "bad run timeout", env: map[string]string{"RUN_TIMEOUT": "0s"}, wantErr: "RUN_TIMEOUT"},
		{name: "bad driver", env: map[string]string{"DB_DRIVER": "mysql"}, wantErr: "DB_DRIVER"},
		{name: "bad cache", env: map[string]string{"GEOCODE_CACHE": "disk"}, wantErr: "GEOCODE_CACHE"},
		{name: "bad cache size", env: map[string]string{"GEOCODE_CACHE_SIZE": "0"}, wantErr: "GEOCODE_CACHE_SIZE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OPENWEATHER_API_KEY", testAPIKey)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
