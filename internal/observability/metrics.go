package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	requests    *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewMetrics creates collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_errors_total",
			Help: "Errors returned to callers by code.",
		}, []string{"method", "route", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ticket_mutations_total",
			Help: "Validated ticket mutations by history action.",
		}, []string{"action"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_profile_cache_hits_total",
			Help: "Profile cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_profile_cache_misses_total",
			Help: "Profile cache misses.",
		}),
	}
	reg.MustRegister(m.requests, m.durations, m.errors, m.transitions, m.cacheHits, m.cacheMisses)
	return m
}

// RecordRequest observes a finished request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.durations.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, route, code).Inc()
}

// RecordMutation counts a committed ticket mutation.
func (m *Metrics) RecordMutation(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// RecordCacheLookup counts a profile cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}
