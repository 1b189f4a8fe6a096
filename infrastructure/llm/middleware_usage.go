package llm

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// usageLLM appends one ledger record per provider call that reports usage.
// Calls are attributed through the ports.UsageScope on the context.
type usageLLM struct {
	layer
	ledger ports.UsageLedger
	logger zerolog.Logger
}

// UsageMiddleware creates middleware that records token usage in ledger.
// Failures to record are logged and never fail the call.
func UsageMiddleware(ledger ports.UsageLedger, logger zerolog.Logger) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &usageLLM{layer: layer{next}, ledger: ledger, logger: logger}
	}
}

// DoRequest forwards the call and records its usage, including replies that
// could not be parsed since the tokens were still spent.
func (u *usageLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	resp, err := u.next.DoRequest(ctx, req)
	if err != nil || u.ledger == nil || resp.Usage.Total() == 0 {
		return resp, err
	}

	scope, _ := ports.UsageScopeFrom(ctx)
	model := resp.Model
	if model == "" {
		model = u.next.GetModel()
	}

	rec := domain.UsageRecord{
		Operation:    scope.Operation,
		ContextID:    scope.ContextID,
		ContextKind:  scope.Kind,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if lerr := u.ledger.Record(context.WithoutCancel(ctx), rec); lerr != nil {
		u.logger.Warn().Err(lerr).
			Str("operation", rec.Operation).
			Str("context_id", rec.ContextID).
			Msg("failed to record usage")
	}
	return resp, nil
}
