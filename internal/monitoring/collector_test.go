package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordTestResult(t *testing.T) {
	c := NewCollector()

	c.RecordTestResult(true, false)
	c.RecordTestResult(false, true)
	c.RecordTestResult(false, true)

	counter := c.metrics["test_results"].(*prometheus.CounterVec)
	if got := testutil.ToFloat64(counter.WithLabelValues("false")); got != 2 {
		t.Errorf("failed results = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.metrics["phantom_refs"].(prometheus.Counter)); got != 2 {
		t.Errorf("phantom references = %v, want 2", got)
	}
}

func TestCollector_RecordShare(t *testing.T) {
	c := NewCollector()
	c.RecordShare("use", true)

	counter := c.metrics["shares"].(*prometheus.CounterVec)
	if got := testutil.ToFloat64(counter.WithLabelValues("use", "true")); got != 1 {
		t.Errorf("forced use shares = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordInvocation("success", 1500*time.Millisecond)
	c.RecordAverageQuality("EVAL-x", 9.25)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`expertgate_agent_invocations_total{outcome="success"} 1`,
		`expertgate_evaluation_average_quality{evaluation_id="EVAL-x"} 9.25`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector

	// Recording on a nil collector must not panic
	c.RecordInvocation("failure", time.Second)
	c.RecordRecomputeFailure()
	c.RecordDecision("sample", "approve")

	if c.Uptime() != 0 {
		t.Errorf("Uptime() on nil collector = %v, want 0", c.Uptime())
	}
}
