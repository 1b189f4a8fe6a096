package ports

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ErrRateLimited, true},
		{"wrapped unavailable", fmt.Errorf("anthropic: %w", ErrServiceUnavailable), true},
		{"timeout", ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"cancelled wrapping timeout", errors.Join(context.Canceled, ErrTimeout), false},
		{"authentication", ErrAuthenticationFailed, false},
		{"truncated reply", ErrTokenLimitExceeded, false},
		{"invalid response", ErrInvalidResponse, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCacheError(t *testing.T) {
	err := NewCacheError("report:abc", "get", ErrCacheCorrupted)

	assert.Equal(t, "cache error: operation=get, key=report:abc, err=cache corrupted", err.Error())
	assert.ErrorIs(t, err, ErrCacheCorrupted)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	var target *CacheError
	assert.True(t, errors.As(fmt.Errorf("resolve: %w", err), &target))
	assert.Equal(t, "report:abc", target.Key)
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("cache.redis_url", ErrConfigNotFound)

	assert.Equal(t, "config error: key=cache.redis_url, err=configuration not found", err.Error())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}
