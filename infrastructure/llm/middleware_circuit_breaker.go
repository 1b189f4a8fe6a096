package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is closed, open or half open.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	// StateHalfOpen admits one probe after the cooldown.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open"}

// String returns the metrics label for s.
func (s CircuitBreakerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerMetrics observes breaker transitions and outcomes.
type CircuitBreakerMetrics interface {
	RecordState(state CircuitBreakerState)
	// RecordTrip counts calls rejected by an open breaker.
	RecordTrip()
	RecordSuccess()
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive transient failures and
// rejects calls for the cooldown before letting one probe through.
// Non-transient errors such as bad requests say nothing about vendor health
// and leave the failure count unchanged.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker. A threshold below one is
// treated as one.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(maxFailures, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open it
// returns ErrCircuitOpen without calling fn. The lock is not held while fn
// runs, so concurrent calls proceed in parallel while the circuit is closed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	cb.probing = false

	switch {
	case err == nil:
		cb.failures = 0
		cb.state = StateClosed
	case ports.IsTransient(err):
		cb.failures++
		cb.openedAt = cb.now()
		if wasProbe || cb.failures >= cb.threshold {
			cb.state = StateOpen
		}
	case wasProbe:
		// The vendor answered, so it is reachable again.
		cb.failures = 0
		cb.state = StateClosed
	}
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakedLLM routes calls through a CircuitBreaker shared by every
// client built from the same Middleware.
type circuitBreakedLLM struct {
	layer
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware trips after maxFailures consecutive transient
// failures and rejects calls for cooldown.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics is CircuitBreakerMiddleware reporting
// to metrics, which may be nil.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreLLM) CoreLLM {
		return &circuitBreakedLLM{
			layer:   layer{next},
			cb:      cb,
			metrics: metrics,
		}
	}
}

func (c *circuitBreakedLLM) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	var resp ports.GenerationResponse

	err := c.cb.Call(func() error {
		var err error
		resp, err = c.next.DoRequest(ctx, req)
		return err
	})

	if c.metrics != nil {
		switch {
		case err == nil:
			c.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	return resp, err
}
