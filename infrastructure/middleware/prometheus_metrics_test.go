package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/cache"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/ledger"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestNewPrometheusMetrics_RegistersPerRegistry(t *testing.T) {
	// Two collectors on separate registries must not collide.
	_, _ = newTestMetrics(t)
	_, _ = newTestMetrics(t)

	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg)
	assert.Panics(t, func() { NewPrometheusMetrics(reg) }, "duplicate registration on one registry")
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	pm, _ := newTestMetrics(t)

	tests := []struct {
		name    string
		metric  string
		labels  map[string]string
		value   float64
		counter prometheus.Collector
	}{
		{
			name:    "provider requests",
			metric:  metricLLMRequests,
			labels:  map[string]string{"provider": "anthropic", "model": "claude", "status": "success"},
			value:   1,
			counter: pm.llmRequests.WithLabelValues("anthropic", "claude", "success"),
		},
		{
			name:    "provider tokens",
			metric:  metricLLMTokens,
			labels:  map[string]string{"provider": "openai", "model": "gpt", "token_type": "input"},
			value:   120,
			counter: pm.llmTokens.WithLabelValues("openai", "gpt", "input"),
		},
		{
			name:    "cache lookups",
			metric:  cache.MetricLookups,
			labels:  map[string]string{"collection": "guides", "result": "hit"},
			value:   1,
			counter: pm.cacheLookups.WithLabelValues("guides", "hit"),
		},
		{
			name:    "corrupt entries",
			metric:  cache.MetricCorrupt,
			labels:  map[string]string{"collection": "reports"},
			value:   1,
			counter: pm.cacheCorrupt.WithLabelValues("reports"),
		},
		{
			name:    "usage cost",
			metric:  ledger.MetricCost,
			labels:  map[string]string{"model": "m", "operation": "evaluate_answer"},
			value:   0.25,
			counter: pm.usageCost.WithLabelValues("m", "evaluate_answer"),
		},
		{
			name:    "usage tokens",
			metric:  ledger.MetricTokens,
			labels:  map[string]string{"model": "m", "operation": "analyze_guide"},
			value:   300,
			counter: pm.usageTokens.WithLabelValues("m", "analyze_guide"),
		},
		{
			name:    "submissions",
			metric:  MetricSubmissions,
			labels:  map[string]string{"outcome": OutcomeCompleted},
			value:   1,
			counter: pm.submissions.WithLabelValues(OutcomeCompleted),
		},
		{
			name:    "missing label falls back to unknown",
			metric:  MetricQuestionFailures,
			value:   2,
			counter: pm.questionFailures.WithLabelValues("unknown"),
		},
		{
			name:    "unmapped metric",
			metric:  "something_else",
			value:   3,
			counter: pm.operationCounter.WithLabelValues("something_else"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm.RecordCounter(tt.metric, tt.value, tt.labels)
			assert.InDelta(t, tt.value, testutil.ToFloat64(tt.counter), 1e-9)
		})
	}
}

func TestPrometheusMetrics_RecordCounterIgnoresNegative(t *testing.T) {
	pm, _ := newTestMetrics(t)
	assert.NotPanics(t, func() { pm.RecordCounter(MetricSubmissions, -1, map[string]string{"outcome": "x"}) })
	assert.Zero(t, testutil.ToFloat64(pm.submissions.WithLabelValues("x")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordHistogram(metricLLMLatency, 1.5, map[string]string{"provider": "p", "model": "m", "status": "success"})
	pm.RecordLatency(MetricStageDuration, 200*time.Millisecond, map[string]string{"stage": "scored"})
	pm.RecordLatency(MetricSubmissionTime, 3*time.Second, nil)
	pm.RecordLatency("guide_upload", time.Second, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.llmLatency, "marker_llm_latency_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.stageDuration, "marker_marking_stage_duration_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.submissionTime, "marker_marking_submission_duration_seconds"))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.operationLatency, "marker_operation_duration_seconds"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)
	pm.RecordGauge("inflight_submissions", 3, nil)
	pm.RecordGauge("inflight_submissions", 1, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("inflight_submissions")))
}

func TestPrometheusMetrics_CircuitBreaker(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordState(llm.StateOpen)
	assert.Equal(t, float64(llm.StateOpen), testutil.ToFloat64(pm.breakerState))

	pm.RecordTrip()
	pm.RecordFailure()
	pm.RecordFailure()
	pm.RecordSuccess()
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.breakerCalls.WithLabelValues("trip")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.breakerCalls.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.breakerCalls.WithLabelValues("success")))
}
