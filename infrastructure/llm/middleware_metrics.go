package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// metricsLLM records latency, request counts and token usage per provider
// and model.
type metricsLLM struct {
	layer
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{layer: layer{next}, collector: collector}
	}
}

// DoRequest executes the request while collecting metrics. A reply that
// could not be parsed is counted with status "malformed".
func (m *metricsLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	start := time.Now()
	resp, err := m.next.DoRequest(ctx, req)

	if m.collector == nil {
		return resp, err
	}

	labels := map[string]string{
		"provider": m.next.ProviderName(),
		"model":    m.next.GetModel(),
		"status":   requestStatus(resp, err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		for kind, n := range map[string]int{"input": resp.Usage.InputTokens, "output": resp.Usage.OutputTokens} {
			m.collector.RecordCounter("llm_tokens_total", float64(n), map[string]string{
				"provider":   labels["provider"],
				"model":      labels["model"],
				"token_type": kind,
			})
		}
	}

	return resp, err
}

func requestStatus(resp ports.GenerationResponse, err error) string {
	switch {
	case err == nil && resp.StopReason == ports.StopReasonError:
		return "malformed"
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
