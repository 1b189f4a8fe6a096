package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

func TestErrorClassifier_ClassifyHTTPError(t *testing.T) {
	ec := &ErrorClassifier{Provider: "openai"}

	tests := []struct {
		status   int
		expected ErrorType
		retry    bool
	}{
		{401, ErrorTypeAuthentication, false},
		{403, ErrorTypeAuthentication, false},
		{408, ErrorTypeTimeout, true},
		{429, ErrorTypeRateLimit, true},
		{400, ErrorTypeBadRequest, false},
		{404, ErrorTypeNotFound, false},
		{422, ErrorTypeBadRequest, false},
		{500, ErrorTypeServerError, true},
		{529, ErrorTypeServerError, true},
		{599, ErrorTypeServerError, true},
		{0, ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := ec.ClassifyHTTPError(tt.status, "boom", nil)
			assert.Equal(t, tt.expected, err.Type)
			assert.Equal(t, tt.retry, err.IsRetryable())
			assert.Equal(t, tt.retry, ports.IsTransient(err), "IsRetryable and ports.IsTransient agree")
		})
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	ec := &ErrorClassifier{Provider: "anthropic"}

	deadline := ec.ClassifyContextError(context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeTimeout, deadline.Type)
	assert.True(t, ports.IsTransient(deadline))

	canceled := ec.ClassifyContextError(fmt.Errorf("wrapped: %w", context.Canceled))
	assert.Equal(t, ErrorTypeCanceled, canceled.Type)
	assert.False(t, ports.IsTransient(canceled))
	assert.ErrorIs(t, canceled, context.Canceled)
}

func TestProviderError_Error(t *testing.T) {
	err := NewProviderError("openai", ErrorTypeRateLimit, 429, "openai rate limit exceeded", errors.New("slow down"))
	assert.Equal(t, "openai error (HTTP 429) [rate_limit]: openai rate limit exceeded: slow down", err.Error())

	bare := NewProviderError("google", ErrorTypeUnknown, 0, "", nil)
	assert.Equal(t, "google error", bare.Error())
}

func TestProviderError_IsSentinels(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    error
	}{
		{ErrorTypeAuthentication, ports.ErrAuthenticationFailed},
		{ErrorTypeRateLimit, ports.ErrRateLimited},
		{ErrorTypeContentPolicy, ports.ErrInvalidResponse},
		{ErrorTypeBadRequest, ports.ErrInvalidResponse},
		{ErrorTypeNetwork, ports.ErrServiceUnavailable},
		{ErrorTypeTimeout, ports.ErrTimeout},
		{ErrorTypeNotFound, nil},
		{ErrorTypeCanceled, nil},
	}
	all := []error{
		ports.ErrAuthenticationFailed, ports.ErrRateLimited, ports.ErrInvalidResponse,
		ports.ErrServiceUnavailable, ports.ErrTimeout,
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			wrapped := fmt.Errorf("evaluate q1: %w", NewProviderError("openai", tt.errType, 0, "", nil))
			for _, sentinel := range all {
				assert.Equal(t, sentinel == tt.want, errors.Is(wrapped, sentinel), "%v", sentinel)
			}
		})
	}
}
