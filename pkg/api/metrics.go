package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Catalog metrics
	catalogOperationsTotal   *prometheus.CounterVec
	catalogOperationDuration *prometheus.HistogramVec
	catalogFiles             prometheus.Gauge

	// Read path metrics
	messagesServedTotal prometheus.Counter
	readWarningsTotal   prometheus.Counter

	authRequestsTotal *prometheus.CounterVec
	healthChecksTotal prometheus.Counter
}

// NewMetrics creates the API metrics and registers them with reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		gatherer: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcapkit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcapkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcapkit_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		catalogOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcapkit_catalog_operations_total",
				Help: "Total number of catalog operations",
			},
			[]string{"operation", "status"},
		),

		catalogOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcapkit_catalog_operation_duration_seconds",
				Help:    "Catalog operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		catalogFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcapkit_catalog_files",
				Help: "Number of files in the catalog",
			},
		),

		messagesServedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mcapkit_messages_served_total",
				Help: "Total number of messages returned by the messages endpoint",
			},
		),

		readWarningsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mcapkit_read_warnings_total",
				Help: "Total number of damaged-input warnings raised while reading files",
			},
		),

		authRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcapkit_auth_requests_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"status"},
		),

		healthChecksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mcapkit_health_checks_total",
				Help: "Total number of health checks",
			},
		),
	}

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCatalogOperation records a catalog operation
func (m *Metrics) RecordCatalogOperation(operation string, success bool, duration time.Duration) {
	m.catalogOperationsTotal.WithLabelValues(operation, status(success)).Inc()
	m.catalogOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCatalogFiles updates the cataloged file count
func (m *Metrics) SetCatalogFiles(n int) {
	m.catalogFiles.Set(float64(n))
}

// RecordMessagesServed counts messages returned to a client
func (m *Metrics) RecordMessagesServed(n int) {
	m.messagesServedTotal.Add(float64(n))
}

// RecordReadWarning counts one recoverable read error
func (m *Metrics) RecordReadWarning() {
	m.readWarningsTotal.Inc()
}

// RecordAuthRequest records an authentication request
func (m *Metrics) RecordAuthRequest(success bool) {
	m.authRequestsTotal.WithLabelValues(status(success)).Inc()
}

// RecordHealthCheck records a health check
func (m *Metrics) RecordHealthCheck() {
	m.healthChecksTotal.Inc()
}

// Instrument is router middleware recording request counts and latency
// by route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		// Create response writer wrapper to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// the pattern is only known once routing is done
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}

func status(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
