// Package metrics exposes gateway counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/apigw/internal/retry"
)

const namespace = "apigw"

// Metrics owns a private registry so several gateways (and tests) can live
// in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	aggregations        *prometheus.CounterVec
	aggregationDuration *prometheus.HistogramVec
	degraded            *prometheus.CounterVec

	outboundAttempts *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	rateLimited      prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "requests_total",
			Help:      "Aggregate requests by final state.",
		}, []string{"state"}),
		aggregationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "duration_seconds",
			Help:      "Time spent collecting the backend fan-out.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"state"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "degraded_total",
			Help:      "Successful reports served without a secondary source.",
		}, []string{"label"}),
		outboundAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "attempts_total",
			Help:      "Outbound call attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Report cache lookups by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.aggregations,
		m.aggregationDuration,
		m.degraded,
		m.outboundAttempts,
		m.cacheLookups,
		m.rateLimited,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecInFlight() { m.httpInFlight.Dec() }

// ObserveHTTP records one finished inbound request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAggregation records the final state of an aggregate request.
func (m *Metrics) ObserveAggregation(state string, d time.Duration, degraded []string) {
	m.aggregations.WithLabelValues(state).Inc()
	m.aggregationDuration.WithLabelValues(state).Observe(d.Seconds())
	for _, l := range degraded {
		m.degraded.WithLabelValues(l).Inc()
	}
}

// ObserveAttempt has the retry.AttemptObserver signature.
func (m *Metrics) ObserveAttempt(service string, o retry.Outcome) {
	if service == "" {
		service = "unknown"
	}
	m.outboundAttempts.WithLabelValues(service, o.Tag()).Inc()
}

// ObserveCache records a report cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncRateLimited counts a rejected request.
func (m *Metrics) IncRateLimited() { m.rateLimited.Inc() }
