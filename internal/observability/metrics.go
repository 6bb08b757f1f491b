// Package observability collects Prometheus metrics for the service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus registry and the stock-specific series.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	reservationsTotal  *prometheus.CounterVec
	oversellRejections prometheus.Counter
	ledgerEntriesTotal *prometheus.CounterVec
	activeAlerts       *prometheus.GaugeVec
}

// NewMetrics initialises the registry and all series.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcore_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockcore_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcore_reservations_total",
		Help: "Reservation lifecycle transitions by outcome.",
	}, []string{"outcome"})
	oversell := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockcore_oversell_rejections_total",
		Help: "Reserve attempts rejected for insufficient available stock.",
	})
	ledger := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockcore_ledger_entries_total",
		Help: "Ledger entries appended by movement type.",
	}, []string{"movement"})
	alerts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockcore_active_alerts",
		Help: "Currently active stock alerts by type.",
	}, []string{"type"})
	registry.MustRegister(requests, duration, reservations, oversell, ledger, alerts)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		reservationsTotal:  reservations,
		oversellRejections: oversell,
		ledgerEntriesTotal: ledger,
		activeAlerts:       alerts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ReservationOutcome counts a coordinator transition (reserved, failed,
// committed, released, expired).
func (m *Metrics) ReservationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(outcome).Inc()
}

// OversellRejected counts a rejected reserve attempt.
func (m *Metrics) OversellRejected() {
	if m == nil {
		return
	}
	m.oversellRejections.Inc()
}

// LedgerAppended counts one appended ledger entry.
func (m *Metrics) LedgerAppended(movement string) {
	if m == nil {
		return
	}
	m.ledgerEntriesTotal.WithLabelValues(movement).Inc()
}

// SetActiveAlerts publishes the current number of active alerts per type.
func (m *Metrics) SetActiveAlerts(alertType string, count int) {
	if m == nil {
		return
	}
	m.activeAlerts.WithLabelValues(alertType).Set(float64(count))
}

// Registerer exposes the registry for module-specific metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
