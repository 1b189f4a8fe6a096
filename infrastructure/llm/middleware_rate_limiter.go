package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// rateLimitedLLM paces calls with a token bucket. The bucket belongs to the
// Middleware value, so all clients built from one Middleware share it.
type rateLimitedLLM struct {
	layer
	bucket *rate.Limiter
}

// RateLimitMiddleware allows limit calls per second on average with bursts
// of up to burst calls.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	bucket := rate.NewLimiter(limit, max(burst, 1))
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{layer: layer{next}, bucket: bucket}
	}
}

// DoRequest waits for a token. When the next token arrives after the
// context deadline the call fails at once with ports.ErrRateLimited and the
// token is handed back.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	if err := r.take(ctx); err != nil {
		return ports.GenerationResponse{}, err
	}
	return r.next.DoRequest(ctx, req)
}

func (r *rateLimitedLLM) take(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	res := r.bucket.Reserve()
	if !res.OK() {
		return fmt.Errorf("rate limit: %w", ports.ErrRateLimited)
	}
	wait := res.Delay()
	if wait == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		res.Cancel()
		return fmt.Errorf("rate limit: next slot in %s is past the deadline: %w", wait.Round(time.Millisecond), ports.ErrRateLimited)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		res.Cancel()
		return fmt.Errorf("rate limit: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
