package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PlanChangesTotal  *prometheus.CounterVec
	PlanRejectedTotal *prometheus.CounterVec
	InvoicesTotal     *prometheus.CounterVec
	SeatOpsTotal      *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
	StoreErrorsTotal  prometheus.Counter
	IdempotentReplays prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "school_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PlanChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_plan_changes_total",
				Help: "Successful subscription activations",
			},
			[]string{"plan", "duration"},
		),
		PlanRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_plan_changes_rejected_total",
				Help: "Rejected subscription activations",
			},
			[]string{"reason"},
		),
		InvoicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_invoices_issued_total",
				Help: "Invoices appended to account ledgers",
			},
			[]string{"plan"},
		),
		SeatOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_seat_operations_total",
				Help: "Seat operations by kind and outcome",
			},
			[]string{"op", "outcome"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "school_outbox_published_total",
				Help: "Outbox records relayed to Kafka",
			},
			[]string{"event_type"},
		),
		StoreErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "school_store_unavailable_total",
			Help: "Store calls that failed with a timeout or connection error",
		}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "school_plan_change_replays_total",
			Help: "Plan change requests answered from a previously claimed idempotency key",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PlanChangesTotal,
		m.PlanRejectedTotal,
		m.InvoicesTotal,
		m.SeatOpsTotal,
		m.OutboxPublished,
		m.StoreErrorsTotal,
		m.IdempotentReplays,
	)
	return m
}

func (m *Metrics) PlanChanged(plan, duration string) {
	if m == nil {
		return
	}
	m.PlanChangesTotal.WithLabelValues(plan, duration).Inc()
	m.InvoicesTotal.WithLabelValues(plan).Inc()
}

func (m *Metrics) PlanRejected(reason string) {
	if m == nil {
		return
	}
	m.PlanRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

func (m *Metrics) SeatOp(op, outcome string) {
	if m == nil {
		return
	}
	m.SeatOpsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) OutboxSent(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StoreUnavailable() {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.Inc()
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. Paths outside routes are
// reported as "other" to bound label cardinality.
func (m *Metrics) Middleware(routes ...string) func(http.Handler) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if _, ok := known[route]; !ok {
				route = "other"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
