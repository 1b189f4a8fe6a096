package ports

import (
	"context"
	"errors"
	"fmt"
)

// Provider failures. Adapters wrap vendor errors so that errors.Is matches
// one of these regardless of which vendor produced them.
var (
	ErrRateLimited          = errors.New("rate limited")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrTimeout              = errors.New("operation timed out")
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidResponse covers rejected requests and replies that carry
	// nothing usable.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrTokenLimitExceeded means the reply was cut off at the output
	// token limit.
	ErrTokenLimitExceeded = errors.New("token limit exceeded")
)

// Cache store failures.
var (
	ErrCacheMiss      = errors.New("cache miss")
	ErrCacheCorrupted = errors.New("cache corrupted")
)

// ErrConfigNotFound means a configuration file or required value is absent.
var ErrConfigNotFound = errors.New("configuration not found")

// IsTransient reports whether a provider call that failed with err may
// succeed when repeated. A cancelled context is never transient, even when
// it wraps a timeout.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	for _, target := range []error{ErrRateLimited, ErrServiceUnavailable, ErrTimeout} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CacheError names the cache key and store operation behind a failure.
type CacheError struct {
	Key       string
	Operation string
	Err       error
}

// NewCacheError wraps err for operation on key.
func NewCacheError(key, operation string, err error) *CacheError {
	return &CacheError{Key: key, Operation: operation, Err: err}
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ConfigError names the configuration key that could not be used. Every
// ConfigError is fatal at startup.
type ConfigError struct {
	ConfigKey string
	Err       error
}

// NewConfigError wraps err for key.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{ConfigKey: key, Err: err}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
