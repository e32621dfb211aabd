package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_provider_requests_total",
			Help: "Provider queries by outcome (ok, error, rate_limited, skipped)",
		},
		[]string{"provider", "result"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbag_provider_request_duration_seconds",
			Help:    "Duration of provider queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SearchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_search_results_total",
			Help: "Scored search results kept after filtering",
		},
		[]string{"kind"},
	)

	Snatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_snatches_total",
			Help: "Downloads submitted to a client",
		},
		[]string{"kind", "mode", "result"},
	)

	Postprocessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_postprocess_total",
			Help: "Completed downloads handled by postprocessing, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	UnmatchedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookbag_library_unmatched_files",
			Help: "Library files not tied to a catalog item after the last scan",
		},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_job_runs_total",
			Help: "Scheduler job runs by result",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookbag_job_duration_seconds",
			Help:    "Duration of scheduler job runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookbag_circuit_breaker_state",
			Help: "Download client circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookbag_circuit_breaker_requests_total",
			Help: "Download client calls by breaker outcome (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)
)

// RecordProviderRequest records one provider query.
func RecordProviderRequest(provider, result string, duration time.Duration) {
	ProviderRequests.WithLabelValues(provider, result).Inc()
	if duration > 0 {
		ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordJobRun records one scheduler run.
func RecordJobRun(job string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
