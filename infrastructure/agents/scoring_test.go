package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
)

func result(id string, max, awarded float64) domain.QuestionResult {
	return domain.QuestionResult{
		QuestionID: id,
		MaxMarks:   max,
		Evaluation: domain.AnswerEvaluation{QuestionID: id, MarksAwarded: awarded, Confidence: 0.9},
	}
}

func TestNewScoringAgent(t *testing.T) {
	_, err := NewScoringAgent(domain.GradeScale{}, 120)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	s, err := NewScoringAgent(domain.GradeScale{}, 50)
	require.NoError(t, err)
	assert.Equal(t, "A", s.Score([]domain.QuestionResult{result("q1", 10, 9)}).Grade, "zero scale uses default bands")
}

func TestScoringAgent_Score(t *testing.T) {
	s, err := NewScoringAgent(domain.MustGradeScale(domain.DefaultGradeBands()), 50)
	require.NoError(t, err)

	failed := result("q3", 4, 3)
	failed.Failure = &domain.QuestionFailure{QuestionID: "q3", Stage: domain.StageAnswersEvaluated, Cause: "timeout"}

	tests := []struct {
		name    string
		results []domain.QuestionResult
		want    domain.ScoringResult
	}{
		{
			name:    "two questions half marks",
			results: []domain.QuestionResult{result("q1", 5, 4), result("q2", 5, 1)},
			want:    domain.ScoringResult{TotalMarks: 5, MaxMarks: 10, Percentage: 50, Grade: "D", Passed: true},
		},
		{
			name:    "failed question counts zero out of max",
			results: []domain.QuestionResult{result("q1", 6, 6), failed},
			want:    domain.ScoringResult{TotalMarks: 6, MaxMarks: 10, Percentage: 60, Grade: "C", Passed: true},
		},
		{
			name:    "over award is clamped",
			results: []domain.QuestionResult{result("q1", 2, 3), result("q2", 2, -1)},
			want:    domain.ScoringResult{TotalMarks: 2, MaxMarks: 4, Percentage: 50, Grade: "D", Passed: true, Clamped: true},
		},
		{
			name:    "below pass mark",
			results: []domain.QuestionResult{result("q1", 3, 1)},
			want:    domain.ScoringResult{TotalMarks: 1, MaxMarks: 3, Percentage: 33.33, Grade: "F"},
		},
		{
			name: "no questions",
			want: domain.ScoringResult{Grade: "F"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.results))
		})
	}
}

func TestScoringAgent_Process(t *testing.T) {
	s, err := NewScoringAgent(domain.MustGradeScale(domain.DefaultGradeBands()), 40)
	require.NoError(t, err)

	reply := s.Process(context.Background(), domain.NewRequest("o", ScoringID, "c", domain.ScoreRequest{
		Results: []domain.QuestionResult{result("q1", 5, 4), result("q2", 5, 1)},
	}))
	resp, err := domain.PayloadAs[domain.ScoreResponse](reply)
	require.NoError(t, err)
	assert.Equal(t, 5.0, resp.Scoring.TotalMarks)
	assert.Equal(t, ScoringID, reply.SenderID)
}
