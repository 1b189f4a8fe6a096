package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedOutput means a model reply could not be decoded into the
	// expected structure, even after the stricter re-prompt.
	ErrMalformedOutput = errors.New("malformed model output")
	ErrGuideNotFound   = errors.New("marking guide not found")
	ErrEmptyDocument   = errors.New("empty document")
	// ErrUnexpectedPayload is returned by an agent handed a message kind it
	// does not handle.
	ErrUnexpectedPayload    = errors.New("unexpected payload")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// StageError records the marking stage, and the question when there is
// one, at which a failure happened.
type StageError struct {
	Stage      Stage
	QuestionID string
	Err        error
}

func NewStageError(stage Stage, questionID string, err error) *StageError {
	return &StageError{Stage: stage, QuestionID: questionID, Err: err}
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage error: stage=%s", e.Stage)
	if e.QuestionID != "" {
		fmt.Fprintf(&b, ", question=%s", e.QuestionID)
	}
	fmt.Fprintf(&b, ", err=%v", e.Err)
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// ValidationError collects every problem found with one entity so callers
// can report them together.
type ValidationError struct {
	Entity string
	Errors []string
}

func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity}
}

func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation error for " + e.Entity + ": " + e.Errors[0]
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}
