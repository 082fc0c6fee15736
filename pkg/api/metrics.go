package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the diagnostics API.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge

	// Region scans, dumps, searches and erases
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	erasedSectors    *prometheus.CounterVec

	authFailures *prometheus.CounterVec
}

// NewMetrics creates the API metrics and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flashring_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		// Whole-region scans of the emulated device take tens of milliseconds.
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flashring_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"route"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flashring_http_requests_in_flight",
			Help: "HTTP requests being served.",
		}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flashring_api_operations_total",
			Help: "Diagnostic operations by kind and outcome.",
		}, []string{"operation", "status"}),
		operationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flashring_api_operation_duration_seconds",
			Help:    "Diagnostic operation latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		erasedSectors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flashring_api_erased_sectors_total",
			Help: "Sectors erased through the API by region and outcome.",
		}, []string{"region", "status"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flashring_api_auth_failures_total",
			Help: "Rejected maintenance requests by reason.",
		}, []string{"reason"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records a scan, dump, search or erase that began at start.
func (m *Metrics) RecordOperation(operation string, err error, start time.Time) {
	m.operations.WithLabelValues(operation, outcome(err)).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordErase counts the sectors a manual erase of region cleared and failed.
func (m *Metrics) RecordErase(region string, erased, failed int) {
	m.erasedSectors.WithLabelValues(region, "success").Add(float64(erased))
	m.erasedSectors.WithLabelValues(region, "error").Add(float64(failed))
}

// RecordAuthFailure counts a request rejected for reason.
func (m *Metrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// Instrument wraps a handler with request counting and latency. route is
// the chi pattern, so path parameters do not multiply the series.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
