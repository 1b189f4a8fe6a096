package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// concurrencyLimitedLLM caps the number of in-flight calls.
type concurrencyLimitedLLM struct {
	layer
	sem *semaphore.Weighted
}

// ConcurrencyLimitMiddleware creates middleware that allows at most limit
// concurrent requests. Like RateLimitMiddleware, the semaphore is shared by
// every client wrapped with the returned Middleware.
func ConcurrencyLimitMiddleware(limit int) Middleware {
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	return func(next CoreLLM) CoreLLM {
		return &concurrencyLimitedLLM{layer: layer{next}, sem: sem}
	}
}

// DoRequest blocks until a slot is free or ctx is done.
func (c *concurrencyLimitedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return ports.GenerationResponse{}, fmt.Errorf("concurrency limit: %w", err)
	}
	defer c.sem.Release(1)
	return c.next.DoRequest(ctx, req)
}
