package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// backoff yields exponentially growing delays with ±25% jitter, capped at
// ceiling.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
}

// maxShift bounds the exponent for absurd attempt counts.
const maxShift = 30

func (b backoff) delay(attempt int) time.Duration {
	attempt = max(0, min(attempt, maxShift))
	// Past the ceiling the shift could overflow; nothing above it is used.
	if b.base > b.ceiling>>attempt {
		return b.ceiling
	}
	d := b.base << attempt
	// #nosec G404 - jitter does not need a cryptographic source
	d = d*3/4 + time.Duration(rand.Int64N(int64(d/2)+1))
	return min(d, b.ceiling)
}

// retryLLM repeats calls that fail with a transient error. An open circuit
// is returned as is so the caller does not hammer a tripped breaker.
type retryLLM struct {
	layer
	attempts int
	wait     backoff
}

// RetryMiddleware retries transient failures up to maxRetries times, waiting
// between attempts with jittered exponential backoff.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			layer:    layer{next},
			attempts: maxRetries + 1,
			wait:     backoff{base: baseDelay, ceiling: maxDelay},
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.next.DoRequest(ctx, req)
		if err == nil || !r.retryable(ctx, err) {
			return resp, err
		}
		if attempt+1 == r.attempts {
			return ports.GenerationResponse{}, fmt.Errorf("request failed after %d attempts: %w", r.attempts, err)
		}

		timer := time.NewTimer(r.wait.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ports.GenerationResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *retryLLM) retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, ErrCircuitOpen) && ports.IsTransient(err)
}
