package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutMiddleware_SucceedsWithinTimeout(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 10 * time.Millisecond
	wrapped := TimeoutMiddleware(200 * time.Millisecond)(mock)

	resp, err := wrapped.DoRequest(context.Background(), testRequest)

	require.NoError(t, err, "request should complete within timeout")
	assert.Equal(t, "test response", resp.Text)
}

func TestTimeoutMiddleware_FailsWhenExceedingTimeout(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 500 * time.Millisecond
	wrapped := TimeoutMiddleware(50 * time.Millisecond)(mock)

	start := time.Now()
	_, err := wrapped.DoRequest(context.Background(), testRequest)

	require.Error(t, err, "request should time out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestTimeoutMiddleware_RespectsExistingContextTimeout(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 500 * time.Millisecond
	wrapped := TimeoutMiddleware(10 * time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := wrapped.DoRequest(ctx, testRequest)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the shorter parent deadline should win")
}

func TestTimeoutMiddleware_EachAttemptGetsFreshDeadline(t *testing.T) {
	// Timeout inside retry: each attempt is bounded separately.
	mock := NewMockCoreLLM()
	mock.ResponseDelay = 30 * time.Millisecond
	mock.FailUntilAttempt = 2
	wrapped := RetryMiddleware(3, time.Millisecond, 5*time.Millisecond)(TimeoutMiddleware(100 * time.Millisecond)(mock))

	resp, err := wrapped.DoRequest(context.Background(), testRequest)

	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestTimeoutMiddleware_PreservesContextValues(t *testing.T) {
	type key struct{}
	mock := NewMockCoreLLM()
	wrapped := TimeoutMiddleware(time.Second)(mock)

	ctx := context.WithValue(context.Background(), key{}, "value")
	_, err := wrapped.DoRequest(ctx, testRequest)

	require.NoError(t, err)
	assert.Equal(t, "value", mock.LastContext.Value(key{}))
	_, hasDeadline := mock.LastContext.Deadline()
	assert.True(t, hasDeadline)
}
