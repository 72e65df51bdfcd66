// Package metrics exposes Prometheus instrumentation for discovery.
//
// All Record methods are safe on a nil *Collector, so components can be
// built without metrics in tests and one-shot CLI runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contractor_match"

// Discovery outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeCached  = "cached"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Tier call outcomes.
const (
	TierOK      = "ok"
	TierError   = "error"
	TierTimeout = "timeout"
)

// Collector owns a private registry and the discovery metrics registered on it.
type Collector struct {
	registry *prometheus.Registry

	discoveries       *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	tierCalls         *prometheus.CounterVec
	tierDuration      *prometheus.HistogramVec
	tierCandidates    *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	selected          prometheus.Histogram
	breakerState      *prometheus.GaugeVec
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the discovery metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Discovery calls by outcome.",
		}, []string{"outcome"}),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "End-to-end discovery latency for computed (uncached) results.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		tierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_calls_total",
			Help:      "Tier provider invocations by tier and outcome.",
		}, []string{"tier", "outcome"}),
		tierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_duration_seconds",
			Help:      "Tier provider latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		tierCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_candidates_total",
			Help:      "Candidates returned by each tier before merge.",
		}, []string{"tier"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Discovery cache lookups by result (hit or miss).",
		}, []string{"result"}),
		selected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selected_candidates",
			Help:      "Number of candidates selected per discovery.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 half open, 2 open).",
		}, []string{"name"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.discoveries,
		c.discoveryDuration,
		c.tierCalls,
		c.tierDuration,
		c.tierCandidates,
		c.cacheLookups,
		c.selected,
		c.breakerState,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordDiscovery counts a finished discovery call.
func (c *Collector) RecordDiscovery(outcome string, d time.Duration, selected int) {
	if c == nil {
		return
	}
	c.discoveries.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		c.discoveryDuration.Observe(d.Seconds())
		c.selected.Observe(float64(selected))
	}
}

// RecordTier counts one tier provider invocation.
func (c *Collector) RecordTier(tier int, outcome string, d time.Duration, candidates int) {
	if c == nil {
		return
	}
	label := strconv.Itoa(tier)
	c.tierCalls.WithLabelValues(label, outcome).Inc()
	c.tierDuration.WithLabelValues(label).Observe(d.Seconds())
	if candidates > 0 {
		c.tierCandidates.WithLabelValues(label).Add(float64(candidates))
	}
}

// RecordCacheLookup counts a discovery cache hit or miss.
func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// SetBreakerState publishes a circuit breaker state.
func (c *Collector) SetBreakerState(name, state string) {
	if c == nil {
		return
	}
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	c.breakerState.WithLabelValues(name).Set(v)
}
