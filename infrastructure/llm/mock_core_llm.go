package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// MockCoreLLM is a scriptable CoreLLM for middleware tests. Set the exported
// fields before the first call.
type MockCoreLLM struct {
	Response      ports.GenerationResponse
	Error         error
	Model         string
	Provider      string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, with Error when set and a
	// 503 server error otherwise, then succeeds. Zero means Error, if set,
	// is returned on every call.
	FailUntilAttempt int

	// LastContext is the context of the most recent call.
	LastContext context.Context

	mu    sync.Mutex
	calls []time.Time
}

// NewMockCoreLLM returns a mock that answers "test response" using 10 input
// and 20 output tokens.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response: ports.GenerationResponse{
			Text:       "test response",
			StopReason: ports.StopEnd,
			Usage:      ports.Usage{InputTokens: 10, OutputTokens: 20},
		},
		Model:    "test-model",
		Provider: "mock",
	}
}

func (m *MockCoreLLM) DoRequest(ctx context.Context, _ ports.GenerationRequest) (ports.GenerationResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, time.Now())
	n := len(m.calls)
	m.LastContext = ctx
	m.mu.Unlock()

	if m.ResponseDelay > 0 {
		timer := time.NewTimer(m.ResponseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ports.GenerationResponse{}, ctx.Err()
		case <-timer.C:
		}
	}

	switch {
	case n <= m.FailUntilAttempt && m.Error == nil:
		return ports.GenerationResponse{}, NewProviderError(m.Provider, ErrorTypeServerError, 503, "simulated failure", nil)
	case n <= m.FailUntilAttempt, m.Error != nil && m.FailUntilAttempt == 0:
		return ports.GenerationResponse{}, m.Error
	}

	resp := m.Response
	if resp.Model == "" {
		resp.Model = m.Model
	}
	return resp, nil
}

func (m *MockCoreLLM) GetModel() string     { return m.Model }
func (m *MockCoreLLM) ProviderName() string { return m.Provider }

// GetCallCount returns the number of DoRequest calls so far.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetTimeBetweenCalls returns the time from call i to call j, both zero
// based, or nil when either has not happened.
func (m *MockCoreLLM) GetTimeBetweenCalls(i, j int) *time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if min(i, j) < 0 || max(i, j) >= len(m.calls) {
		return nil
	}
	d := m.calls[j].Sub(m.calls[i])
	return &d
}
