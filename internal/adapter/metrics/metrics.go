package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// apiRequestsTotal tracks vendor API requests by method and status code
	apiRequestsTotal *prometheus.CounterVec

	// apiRequestDuration tracks latency of vendor API calls
	apiRequestDuration prometheus.Histogram

	// apiRetriesTotal tracks retried requests by status code
	apiRetriesTotal *prometheus.CounterVec

	// apiErrorsTotal tracks vendor API errors by type
	apiErrorsTotal *prometheus.CounterVec

	// commandsTotal tracks operator commands by name and outcome
	commandsTotal *prometheus.CounterVec

	// incidentsFetchedTotal counts incidents produced by fetch cycles
	incidentsFetchedTotal prometheus.Counter

	// lastFetchedID exposes the current bookmark
	lastFetchedID prometheus.Gauge
)

// Init registers all Prometheus metrics.
// This should be called once at application startup
func Init() {
	metricsOnce.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varonis_api_requests_total",
				Help: "Total number of Varonis API requests by method and status code",
			},
			[]string{"method", "code"},
		)

		apiRequestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "varonis_api_request_duration_seconds",
				Help:    "Duration of Varonis API requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varonis_api_retries_total",
				Help: "Total number of retried Varonis API requests by status code",
			},
			[]string{"code"},
		)

		apiErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varonis_api_errors_total",
				Help: "Total number of Varonis API errors by error type",
			},
			[]string{"error_type"},
		)

		commandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "varonis_commands_total",
				Help: "Total number of executed commands by name and status",
			},
			[]string{"command", "status"},
		)

		incidentsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "varonis_incidents_fetched_total",
				Help: "Total number of incidents created by fetch cycles",
			},
		)

		lastFetchedID = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "varonis_last_fetched_alert_id",
				Help: "Alert sequence ID of the current fetch bookmark",
			},
		)
	})
}

// RecordRequest records a completed API request
func RecordRequest(method string, code int, duration time.Duration) {
	if apiRequestsTotal != nil {
		apiRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	if apiRequestDuration != nil {
		apiRequestDuration.Observe(duration.Seconds())
	}
}

// RecordRetry records a retried request
func RecordRetry(code int) {
	if apiRetriesTotal != nil {
		apiRetriesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// RecordError records an API error by type
// errorType: "auth", "rate_limit", "server_error", "http_error", "connection", "circuit_open"
func RecordError(errorType string) {
	if apiErrorsTotal != nil {
		apiErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// RecordCommand records a command execution
// status: "success", "error"
func RecordCommand(command, status string) {
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(command, status).Inc()
	}
}

// RecordFetch records the outcome of a fetch cycle
func RecordFetch(incidents int, bookmark int64) {
	if incidentsFetchedTotal != nil {
		incidentsFetchedTotal.Add(float64(incidents))
	}
	if lastFetchedID != nil {
		lastFetchedID.Set(float64(bookmark))
	}
}

// RequestTimer is a helper for timing API requests
type RequestTimer struct {
	start  time.Time
	method string
}

// StartTimer creates a new timer for measuring request duration
func StartTimer(method string) *RequestTimer {
	return &RequestTimer{start: time.Now(), method: method}
}

// Observe records the request with its status code
func (t *RequestTimer) Observe(code int) {
	if t != nil {
		RecordRequest(t.method, code, time.Since(t.start))
	}
}
