package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// tracedLLM wraps each call in an OpenTelemetry span.
type tracedLLM struct {
	layer
	serviceName string
	tracer      trace.Tracer
}

// TracingMiddleware creates middleware that adds distributed tracing to
// requests. Spans come from the global tracer provider, which is a no-op
// until the application installs one.
func TracingMiddleware(serviceName string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			layer:       layer{next},
			serviceName: serviceName,
			tracer:      otel.Tracer("answer-sheet-marker/llm"),
		}
	}
}

// DoRequest executes the request within a span carrying model, tool and
// token attributes.
func (t *tracedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	scope, _ := ports.UsageScopeFrom(ctx)
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("llm.provider", t.next.ProviderName()),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.String("llm.operation", scope.Operation),
			attribute.Int("llm.prompt.length", len(req.Prompt())),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	resp, err := t.next.DoRequest(ctx, req)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.String("llm.stop_reason", string(resp.StopReason)),
		attribute.Int("llm.tokens.input", resp.Usage.InputTokens),
		attribute.Int("llm.tokens.output", resp.Usage.OutputTokens),
	)
	if resp.StopReason == ports.StopReasonError {
		span.SetStatus(codes.Error, "malformed model output")
	}
	return resp, nil
}
