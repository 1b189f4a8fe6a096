package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var (
	ErrEmptyAPIKey      = errors.New("API key cannot be empty")
	ErrEmptyResponse    = errors.New("empty response from API")
	ErrNoResponseChoice = errors.New("no response choices returned")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// ErrorType is the vendor-neutral category of a provider failure. The zero
// value means the failure could not be classified.
type ErrorType string

const (
	ErrorTypeUnknown        ErrorType = ""
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeBadRequest     ErrorType = "bad_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeContentPolicy  ErrorType = "content_policy"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeCanceled       ErrorType = "canceled"
)

// sentinelFor maps each category onto the ports sentinel that errors.Is
// should report. Categories absent here match no sentinel.
var sentinelFor = map[ErrorType]error{
	ErrorTypeAuthentication: ports.ErrAuthenticationFailed,
	ErrorTypeRateLimit:      ports.ErrRateLimited,
	ErrorTypeBadRequest:     ports.ErrInvalidResponse,
	ErrorTypeContentPolicy:  ports.ErrInvalidResponse,
	ErrorTypeServerError:    ports.ErrServiceUnavailable,
	ErrorTypeNetwork:        ports.ErrServiceUnavailable,
	ErrorTypeTimeout:        ports.ErrTimeout,
}

// ProviderError is a vendor failure normalized by an adapter.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int // zero when no HTTP response was received
	Message    string
	// WrappedError is the vendor SDK error, kept for errors.As.
	WrappedError error
}

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Type != ErrorTypeUnknown {
		fmt.Fprintf(&b, " [%s]", e.Type)
	}
	for _, part := range []string{e.Message, errString(e.WrappedError)} {
		if part != "" {
			b.WriteString(": ")
			b.WriteString(part)
		}
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.WrappedError }

// Is lets callers test against the ports sentinels without importing this
// package.
func (e *ProviderError) Is(target error) bool {
	sentinel, ok := sentinelFor[e.Type]
	return ok && sentinel == target
}

// IsRetryable agrees with ports.IsTransient for every category.
func (e *ProviderError) IsRetryable() bool {
	return ports.IsTransient(e)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// statusTypes covers the status codes with a specific meaning. Others fall
// back to their class.
var statusTypes = map[int]ErrorType{
	400: ErrorTypeBadRequest,
	401: ErrorTypeAuthentication,
	403: ErrorTypeAuthentication,
	404: ErrorTypeNotFound,
	408: ErrorTypeTimeout,
	429: ErrorTypeRateLimit,
}

func typeForStatus(status int) ErrorType {
	if t, ok := statusTypes[status]; ok {
		return t
	}
	switch {
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeBadRequest
	}
	return ErrorTypeUnknown
}

// ErrorClassifier turns vendor failures into ProviderErrors for one adapter.
type ErrorClassifier struct {
	Provider string
}

// ClassifyHTTPError classifies a failure by its HTTP status. Authentication
// and rate limit failures get a fixed message naming the provider.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	errType := typeForStatus(statusCode)
	switch errType {
	case ErrorTypeAuthentication:
		message = ec.Provider + " authentication failed"
	case ErrorTypeRateLimit:
		message = ec.Provider + " rate limit exceeded"
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies a failure caused by the request context.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	}
	return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
