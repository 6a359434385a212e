package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the
// reconciliation engine.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	obligationsCreated *prometheus.CounterVec
	paymentsTotal      *prometheus.CounterVec
	checksTotal        *prometheus.CounterVec
	periodsFinalized   prometheus.Counter
	transactionsLocked prometheus.Counter
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vereinskasse_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vereinskasse_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	obligations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vereinskasse_obligations_created_total",
		Help: "Obligations created by kind.",
	}, []string{"kind"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vereinskasse_payments_total",
		Help: "Payment link and unlink operations by obligation kind.",
	}, []string{"kind", "action"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vereinskasse_transaction_checks_total",
		Help: "Recorded transaction checks by verdict.",
	}, []string{"verdict"})
	finalized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vereinskasse_check_periods_finalized_total",
		Help: "Check periods finalized.",
	})
	locked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vereinskasse_transactions_locked_total",
		Help: "Transactions locked by period finalization.",
	})
	registry.MustRegister(requests, duration, obligations, payments, checks, finalized, locked)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		obligationsCreated: obligations,
		paymentsTotal:      payments,
		checksTotal:        checks,
		periodsFinalized:   finalized,
		transactionsLocked: locked,
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

// Middleware records metrics for every HTTP request.
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

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObligationCreated counts a new fee or item obligation.
func (m *Metrics) ObligationCreated(kind string) {
	if m == nil {
		return
	}
	m.obligationsCreated.WithLabelValues(kind).Inc()
}

// PaymentLinked counts a payment linked to an obligation of kind.
func (m *Metrics) PaymentLinked(kind string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind, "link").Inc()
}

// PaymentUnlinked counts a removed payment.
func (m *Metrics) PaymentUnlinked(kind string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind, "unlink").Inc()
}

// CheckRecorded counts a transaction check.
func (m *Metrics) CheckRecorded(verdict string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(verdict).Inc()
}

// PeriodFinalized counts a finalized period and the transactions it locked.
func (m *Metrics) PeriodFinalized(locked int) {
	if m == nil {
		return
	}
	m.periodsFinalized.Inc()
	if locked > 0 {
		m.transactionsLocked.Add(float64(locked))
	}
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
