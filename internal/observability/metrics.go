package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the measures pipeline.
type Metrics struct {
	// Run metrics. RunsTotal is labelled by run_type and outcome, the step
	// vectors by step name.
	RunsTotal       *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	StepFailures    *prometheus.CounterVec
	StepRetries     *prometheus.CounterVec
	MeasuresWritten prometheus.Counter
	PipelineRunning prometheus.Gauge
	LastSuccessTime prometheus.Gauge

	// OpenWeather API metrics.
	APIRequests  *prometheus.CounterVec   // labels: endpoint={geocode,timemachine}, outcome={success,error}
	APIDuration  *prometheus.HistogramVec // labels: endpoint
	GeocodeCache *prometheus.CounterVec   // labels: backend={memory,redis}, result={hit,miss}

	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.StepDuration,
		m.StepFailures,
		m.StepRetries,
		m.MeasuresWritten,
		m.PipelineRunning,
		m.LastSuccessTime,
		m.APIRequests,
		m.APIDuration,
		m.GeocodeCache,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "runs_total",
			Help:      "Pipeline runs by type and final state.",
		}, []string{"run_type", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weather_etl",
			Name:      "step_duration_seconds",
			Help:      "Duration of each pipeline step.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"step"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "step_failures_total",
			Help:      "Step attempts that returned an error.",
		}, []string{"step"}),
		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "step_retries_total",
			Help:      "Step attempts repeated after a failure.",
		}, []string{"step"}),
		MeasuresWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "measures_written_total",
			Help:      "Rows appended to the measures table.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_etl",
			Name:      "pipeline_running",
			Help:      "Number of runs currently executing.",
		}),
		LastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_etl",
			Name:      "last_success_logical_date_seconds",
			Help:      "Logical date of the most recent persisted run, as unix seconds.",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "openweather_requests_total",
			Help:      "OpenWeather API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weather_etl",
			Name:      "openweather_request_duration_seconds",
			Help:      "OpenWeather API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by backend and result.",
		}, []string{"backend", "result"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "publish_errors_total",
			Help:      "Measures that could not be published to Kafka.",
		}),
	}
}
