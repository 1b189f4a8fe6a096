package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError(t *testing.T) {
	tests := []struct {
		name       string
		stage      Stage
		questionID string
		err        error
		wantMsg    string
	}{
		{
			name:    "sheet level",
			stage:   StageGuideResolved,
			err:     ErrGuideNotFound,
			wantMsg: "stage error: stage=guide_resolved, err=marking guide not found",
		},
		{
			name:       "question level",
			stage:      StageAnswersEvaluated,
			questionID: "q2",
			err:        ErrMalformedOutput,
			wantMsg:    "stage error: stage=answers_evaluated, question=q2, err=malformed model output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStageError(tt.stage, tt.questionID, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.stage, err.Stage)
			assert.True(t, errors.Is(err, tt.err), "Should unwrap to underlying error")
		})
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("marking guide")
		err.AddError("guide has no questions")

		assert.Equal(t, "validation error for marking guide: guide has no questions", err.Error())
		assert.True(t, err.HasErrors())
		assert.Len(t, err.Errors, 1)
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("config")
		err.AddError("missing provider")
		err.AddError("negative threshold")

		assert.Contains(t, err.Error(), "validation errors for config")
		assert.Len(t, err.Errors, 2)
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("config")

		assert.False(t, err.HasErrors())
		assert.Empty(t, err.Errors)
	})
}

func TestQuestionFailureError(t *testing.T) {
	f := &QuestionFailure{QuestionID: "q1", Stage: StageAnswersEvaluated, Cause: "timeout"}
	assert.Equal(t, "question q1 failed during answers_evaluated: timeout", f.Error())
}
