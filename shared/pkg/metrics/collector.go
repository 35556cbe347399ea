package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gentrack"

// Collector holds the client-side coordination metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	cacheRequests   *prometheus.CounterVec
	dedupCalls      *prometheus.CounterVec
	throttledCalls  prometheus.Counter
	invalidations   prometheus.Counter
	gatewayRequests *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	activePollers   prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
// A nil reg creates unregistered metrics, which is what tests use.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cache_requests_total",
			Help:      "Cached lookups by result (hit, miss).",
		}, []string{"result"}),
		dedupCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "dedup_calls_total",
			Help:      "Deduplicated calls by whether the result was shared with another caller.",
		}, []string{"shared"}),
		throttledCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "throttled_calls_total",
			Help:      "Calls answered with the throttled sentinel.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "invalidated_entries_total",
			Help:      "Cache entries removed by Invalidate.",
		}),
		gatewayRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "API request latency by operation and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Job status polls by outcome.",
		}, []string{"outcome"}),
		activePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "Job pollers currently scheduling fetches.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.cacheRequests,
			c.dedupCalls,
			c.throttledCalls,
			c.invalidations,
			c.gatewayRequests,
			c.polls,
			c.activePollers,
		)
	}
	return c
}

// CacheHit records a cached lookup served from a live entry
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cacheRequests.WithLabelValues("hit").Inc()
}

// CacheMiss records a cached lookup that invoked the producer
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cacheRequests.WithLabelValues("miss").Inc()
}

// DedupCall records one caller of a deduplicated call
func (c *Collector) DedupCall(shared bool) {
	if c == nil {
		return
	}
	label := "false"
	if shared {
		label = "true"
	}
	c.dedupCalls.WithLabelValues(label).Inc()
}

// Throttled records a call answered with the throttled sentinel
func (c *Collector) Throttled() {
	if c == nil {
		return
	}
	c.throttledCalls.Inc()
}

// Invalidated records removed cache entries
func (c *Collector) Invalidated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.invalidations.Add(float64(n))
}

// ObserveRequest records one gateway request
func (c *Collector) ObserveRequest(operation, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.gatewayRequests.WithLabelValues(operation, outcome).Observe(took.Seconds())
}

// Poll records the outcome of one status poll
func (c *Collector) Poll(outcome string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(outcome).Inc()
}

// PollerStarted increments the active poller gauge
func (c *Collector) PollerStarted() {
	if c == nil {
		return
	}
	c.activePollers.Inc()
}

// PollerStopped decrements the active poller gauge
func (c *Collector) PollerStopped() {
	if c == nil {
		return
	}
	c.activePollers.Dec()
}
