// Package metrics exposes ledger and HTTP measurements to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/fuel-ledger/stock"
)

// Metrics implements stock.Recorder and carries the HTTP collectors. It
// registers on its own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	allocatedLitres *prometheus.CounterVec
	releasedLitres  *prometheus.CounterVec
	failures        *prometheus.CounterVec
	lockWait        *prometheus.HistogramVec
	auditViolations *prometheus.GaugeVec

	requestCounter *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		allocatedLitres: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuel_ledger_allocated_litres_total",
				Help: "Litres depleted from batches by allocations and reconciliations",
			},
			[]string{"product"},
		),
		releasedLitres: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuel_ledger_released_litres_total",
				Help: "Litres returned to batches by reversals",
			},
			[]string{"product"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuel_ledger_operation_failures_total",
				Help: "Failed ledger operations by operation and error kind",
			},
			[]string{"op", "kind"},
		),
		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuel_ledger_lock_wait_seconds",
				Help:    "Time spent waiting for a product lock",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"product"},
		),
		auditViolations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuel_ledger_consistency_violations",
				Help: "Violations found by the last consistency audit",
			},
			[]string{"product"},
		),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuel_ledger_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuel_ledger_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	m.registry.MustRegister(
		m.allocatedLitres,
		m.releasedLitres,
		m.failures,
		m.lockWait,
		m.auditViolations,
		m.requestCounter,
		m.requestLatency,
	)
	return m
}

// Registry returns the registry all collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// stock.Recorder
// =============================================================================

func (m *Metrics) Allocated(product stock.Product, litres stock.Litres) {
	m.allocatedLitres.WithLabelValues(string(product)).Add(litres.Value.InexactFloat64())
}

func (m *Metrics) Released(product stock.Product, litres stock.Litres) {
	m.releasedLitres.WithLabelValues(string(product)).Add(litres.Value.InexactFloat64())
}

func (m *Metrics) Failed(op string, err error) {
	m.failures.WithLabelValues(op, Kind(err)).Inc()
}

func (m *Metrics) LockWait(product stock.Product, d time.Duration) {
	m.lockWait.WithLabelValues(string(product)).Observe(d.Seconds())
}

// Audited records the outcome of a consistency check.
func (m *Metrics) Audited(product stock.Product, violations int) {
	m.auditViolations.WithLabelValues(string(product)).Set(float64(violations))
}

// Kind classifies an engine error for the failures counter.
func Kind(err error) string {
	switch {
	case errors.Is(err, stock.ErrInsufficientAggregateStock):
		return "insufficient_stock"
	case stock.IsRetryable(err):
		return "contention"
	case stock.IsConsistencyViolation(err):
		return "consistency"
	case stock.IsNotFound(err):
		return "not_found"
	case stock.IsClientError(err):
		return "invalid"
	default:
		return "internal"
	}
}

// =============================================================================
// HTTP
// =============================================================================

// Middleware counts requests and observes their latency. route names the
// request for labelling; callers pass the router's pattern.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			name := route(r)
			m.requestLatency.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
			m.requestCounter.WithLabelValues(r.Method, name, strconv.Itoa(rw.statusCode)).Inc()
		})
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var _ stock.Recorder = (*Metrics)(nil)
