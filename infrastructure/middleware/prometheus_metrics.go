// Package middleware provides the observability adapters of the marker:
// a Prometheus metrics collector and an OpenTelemetry marking observer.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/cache"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/ledger"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Metric names recorded by the marking observer.
const (
	MetricSubmissions      = "marking_submissions_total"
	MetricQuestionFailures = "marking_question_failures_total"
	MetricStageDuration    = "marking_stage_duration"
	MetricSubmissionTime   = "marking_submission_duration"
)

// Metric names recorded by the provider middleware.
const (
	metricLLMRequests = "llm_requests_total"
	metricLLMLatency  = "llm_latency_seconds"
	metricLLMTokens   = "llm_tokens_total"
)

const namespace = "marker"

// PrometheusMetrics implements ports.MetricsCollector and
// llm.CircuitBreakerMetrics using Prometheus. Known metric names map onto
// dedicated vectors; anything else lands in the generic operation vectors.
type PrometheusMetrics struct {
	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec
	cacheCorrupt *prometheus.CounterVec

	usageCost   *prometheus.CounterVec
	usageTokens *prometheus.CounterVec

	submissions      *prometheus.CounterVec
	questionFailures *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	submissionTime   prometheus.Histogram

	breakerState prometheus.Gauge
	breakerCalls *prometheus.CounterVec

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

var (
	_ ports.MetricsCollector    = (*PrometheusMetrics)(nil)
	_ llm.CircuitBreakerMetrics = (*PrometheusMetrics)(nil)
)

// NewPrometheusMetrics creates the collector and registers its metrics with
// reg. Pass prometheus.DefaultRegisterer to expose them on the default
// handler, or a fresh registry in tests.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      metricLLMRequests,
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "model", "status"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      metricLLMLatency,
			Help:      "Provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider", "model", "status"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      metricLLMTokens,
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "model", "token_type"}),

		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      cache.MetricLookups,
			Help:      "Content cache lookups by result.",
		}, []string{"collection", "result"}),
		cacheCorrupt: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      cache.MetricCorrupt,
			Help:      "Cache entries that could not be decoded and were treated as misses.",
		}, []string{"collection"}),

		usageCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ledger.MetricCost,
			Help:      "Cost recorded in the usage ledger.",
		}, []string{"model", "operation"}),
		usageTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ledger.MetricTokens,
			Help:      "Tokens recorded in the usage ledger.",
		}, []string{"model", "operation"}),

		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSubmissions,
			Help:      "Marked submissions by outcome.",
		}, []string{"outcome"}),
		questionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricQuestionFailures,
			Help:      "Questions recorded as failed, by stage.",
		}, []string{"stage"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricStageDuration + "_seconds",
			Help:      "Time spent reaching each marking stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		submissionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricSubmissionTime + "_seconds",
			Help:      "End-to-end submission marking time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),

		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "llm_circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		breakerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_circuit_events_total",
			Help:      "Circuit breaker trips, successes and failures.",
		}, []string{"event"}),

		operationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of operations without a dedicated metric.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Counters without a dedicated metric.",
		}, []string{"metric"}),
		systemGauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_state",
			Help:      "Current values of named gauges.",
		}, []string{"metric"}),
	}
}

// RecordLatency implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case MetricStageDuration:
		pm.stageDuration.WithLabelValues(label(labels, "stage")).Observe(duration.Seconds())
	case MetricSubmissionTime:
		pm.submissionTime.Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	switch metric {
	case metricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case metricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "token_type")).Add(value)
	case cache.MetricLookups:
		pm.cacheLookups.WithLabelValues(label(labels, "collection"), label(labels, "result")).Add(value)
	case cache.MetricCorrupt:
		pm.cacheCorrupt.WithLabelValues(label(labels, "collection")).Add(value)
	case ledger.MetricCost:
		pm.usageCost.WithLabelValues(label(labels, "model"), label(labels, "operation")).Add(value)
	case ledger.MetricTokens:
		pm.usageTokens.WithLabelValues(label(labels, "model"), label(labels, "operation")).Add(value)
	case MetricSubmissions:
		pm.submissions.WithLabelValues(label(labels, "outcome")).Add(value)
	case MetricQuestionFailures:
		pm.questionFailures.WithLabelValues(label(labels, "stage")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements ports.MetricsCollector. Provider latency has
// its own histogram; other values go to the generic operation histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == metricLLMLatency {
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
		return
	}
	pm.operationLatency.WithLabelValues(metric).Observe(value)
}

// RecordState implements llm.CircuitBreakerMetrics.
func (pm *PrometheusMetrics) RecordState(state llm.CircuitBreakerState) {
	pm.breakerState.Set(float64(state))
}

// RecordTrip implements llm.CircuitBreakerMetrics.
func (pm *PrometheusMetrics) RecordTrip() { pm.breakerCalls.WithLabelValues("trip").Inc() }

// RecordSuccess implements llm.CircuitBreakerMetrics.
func (pm *PrometheusMetrics) RecordSuccess() { pm.breakerCalls.WithLabelValues("success").Inc() }

// RecordFailure implements llm.CircuitBreakerMetrics.
func (pm *PrometheusMetrics) RecordFailure() { pm.breakerCalls.WithLabelValues("failure").Inc() }

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}
