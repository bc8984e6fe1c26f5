package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records the gate's operational metrics on a private registry.
// A nil *Collector records nothing.
type Collector struct {
	registry  *prometheus.Registry
	metrics   map[string]prometheus.Collector
	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	// Initialize metrics
	invocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertgate_agent_invocations_total",
			Help: "Agent invocations by outcome",
		},
		[]string{"outcome"},
	)

	invocationSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expertgate_agent_invocation_seconds",
			Help:    "Time taken by the agent to answer one question",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	testResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertgate_test_results_total",
			Help: "Recorded test results by whether they met the quality criteria",
		},
		[]string{"passed"},
	)

	phantomRefs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expertgate_phantom_references_total",
			Help: "Test results flagged for citing references that do not exist",
		},
	)

	recomputeFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expertgate_recompute_failures_total",
			Help: "Aggregate recomputations that failed after a result write",
		},
	)

	averageQuality := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "expertgate_evaluation_average_quality",
			Help: "Average reviewer quality of an evaluation",
		},
		[]string{"evaluation_id"},
	)

	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertgate_approval_decisions_total",
			Help: "Reviewer decisions by approval track",
		},
		[]string{"track", "decision"},
	)

	shares := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expertgate_shares_total",
			Help: "Share grants by access level and whether the gate was bypassed",
		},
		[]string{"access_level", "forced"},
	)

	// Create metrics map
	metrics := map[string]prometheus.Collector{
		"invocations":        invocations,
		"invocation_seconds": invocationSeconds,
		"test_results":       testResults,
		"phantom_refs":       phantomRefs,
		"recompute_failures": recomputeFailures,
		"average_quality":    averageQuality,
		"decisions":          decisions,
		"shares":             shares,
	}

	// Register metrics
	for _, metric := range metrics {
		registry.MustRegister(metric)
	}

	return &Collector{
		registry:  registry,
		metrics:   metrics,
		startTime: time.Now(),
	}
}

// Registry exposes the private registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Uptime returns the time since the collector was created
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

// RecordInvocation records one call to the external agent
func (c *Collector) RecordInvocation(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if counter, ok := c.metrics["invocations"].(*prometheus.CounterVec); ok {
		counter.WithLabelValues(outcome).Inc()
	}
	if histogram, ok := c.metrics["invocation_seconds"].(prometheus.Histogram); ok {
		histogram.Observe(d.Seconds())
	}
}

// RecordTestResult records a finalized test result
func (c *Collector) RecordTestResult(passed, phantom bool) {
	if c == nil {
		return
	}
	if counter, ok := c.metrics["test_results"].(*prometheus.CounterVec); ok {
		counter.WithLabelValues(strconv.FormatBool(passed)).Inc()
	}
	if phantom {
		if counter, ok := c.metrics["phantom_refs"].(prometheus.Counter); ok {
			counter.Inc()
		}
	}
}

// RecordRecomputeFailure counts an aggregate rebuild that did not land
func (c *Collector) RecordRecomputeFailure() {
	if c == nil {
		return
	}
	if counter, ok := c.metrics["recompute_failures"].(prometheus.Counter); ok {
		counter.Inc()
	}
}

// RecordAverageQuality records the latest aggregate quality of an evaluation
func (c *Collector) RecordAverageQuality(evaluationID string, avg float64) {
	if c == nil {
		return
	}
	if gauge, ok := c.metrics["average_quality"].(*prometheus.GaugeVec); ok {
		gauge.WithLabelValues(evaluationID).Set(avg)
	}
}

// RecordDecision counts a reviewer decision on the evaluation or sample track
func (c *Collector) RecordDecision(track, decision string) {
	if c == nil {
		return
	}
	if counter, ok := c.metrics["decisions"].(*prometheus.CounterVec); ok {
		counter.WithLabelValues(track, decision).Inc()
	}
}

// RecordShare counts a share grant
func (c *Collector) RecordShare(accessLevel string, forced bool) {
	if c == nil {
		return
	}
	if counter, ok := c.metrics["shares"].(*prometheus.CounterVec); ok {
		counter.WithLabelValues(accessLevel, strconv.FormatBool(forced)).Inc()
	}
}
