package llm

import (
	"context"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// timeoutLLM bounds a single attempt. Placed inside RetryMiddleware it gives
// every attempt its own deadline.
type timeoutLLM struct {
	layer
	limit time.Duration
}

// TimeoutMiddleware caps each call at limit. A shorter deadline already on
// the context still applies.
func TimeoutMiddleware(limit time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{layer: layer{next}, limit: limit}
	}
}

func (t *timeoutLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()
	return t.next.DoRequest(ctx, req)
}
