package agents

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/testutils"
)

const photosynthesisAnswer = "Plants use chlorophyll to absorb light energy. They turn carbon dioxide and water into glucose."

func verdict(concept string, present bool, accuracy string, evidence string, points float64) map[string]any {
	return map[string]any{
		"concept":       concept,
		"present":       present,
		"accuracy":      accuracy,
		"evidence":      evidence,
		"points_earned": points,
	}
}

func evaluate(t *testing.T, e *AnswerEvaluator, q domain.AnalyzedQuestion, answer string) domain.AnswerEvaluation {
	t.Helper()
	reply := e.Process(context.Background(), domain.NewRequest("o", EvaluatorID, "c", domain.EvaluateRequest{Question: q, Answer: answer}))
	resp, err := domain.PayloadAs[domain.EvaluateResponse](reply)
	require.NoError(t, err)
	return resp.Evaluation
}

func newEvaluator(t *testing.T, provider *testutils.MockProvider, strictness Strictness) *AnswerEvaluator {
	t.Helper()
	e, err := NewAnswerEvaluator(provider, EvaluatorConfig{ConfidenceThreshold: 0.7, Strictness: strictness}, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestNewAnswerEvaluator(t *testing.T) {
	_, err := NewAnswerEvaluator(testutils.NewMockProvider("m"), EvaluatorConfig{Strictness: "lenient"}, zerolog.Nop())
	require.Error(t, err)

	_, err = NewAnswerEvaluator(testutils.NewMockProvider("m"), EvaluatorConfig{ConfidenceThreshold: 1.5}, zerolog.Nop())
	require.Error(t, err)

	e, err := NewAnswerEvaluator(testutils.NewMockProvider("m"), EvaluatorConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, StrictnessClamp, e.config.Strictness)
}

func TestAnswerEvaluator_Evaluates(t *testing.T) {
	provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", map[string]any{
		"concepts": []map[string]any{
			verdict("light energy is absorbed by chlorophyll", true, "good", "chlorophyll to absorb light energy", 2),
			verdict("Carbon dioxide and water form glucose", true, "excellent", "carbon dioxide and water into glucose", 2),
			verdict("Oxygen is released", false, "none", "", 0),
		},
		"overall_quality": "good",
		"confidence":      0.9,
		"marks_awarded":   4,
		"strengths":       []string{"Clear link between light and chlorophyll"},
	})
	e := newEvaluator(t, provider, StrictnessClamp)

	eval := evaluate(t, e, photosynthesisQuestion(), photosynthesisAnswer)

	assert.Equal(t, "q1", eval.QuestionID)
	assert.Equal(t, 4.0, eval.MarksAwarded)
	assert.Equal(t, 4.0, eval.PointsEarned())
	assert.False(t, eval.RequiresHumanReview)
	assert.Empty(t, eval.ReviewReasons)
	require.Len(t, eval.Concepts, 3)
	assert.True(t, eval.Concepts[0].Mandatory, "mandatory comes from the guide, matched case-insensitively")
	assert.Equal(t, domain.TierGood, eval.Concepts[0].Accuracy)

	prompt := provider.Requests()[0].Messages[0].Content
	assert.Contains(t, prompt, "1. Light energy is absorbed by chlorophyll [2 points, mandatory]")
	assert.Contains(t, prompt, "3. Oxygen is released [1 points]")
	assert.Contains(t, prompt, photosynthesisAnswer)
	assert.NotContains(t, prompt, "Rubric:")
}

func TestAnswerEvaluator_BlankAnswer(t *testing.T) {
	provider := testutils.NewMockProvider("m")
	e := newEvaluator(t, provider, StrictnessClamp)

	eval := evaluate(t, e, photosynthesisQuestion(), " \n\t")

	assert.Zero(t, provider.Calls())
	assert.Zero(t, eval.MarksAwarded)
	assert.Equal(t, domain.TierNone, eval.OverallQuality)
	assert.False(t, eval.RequiresHumanReview)
	require.Len(t, eval.Concepts, 3)
	for _, c := range eval.Concepts {
		assert.False(t, c.Present)
	}
}

func TestAnswerEvaluator_ScoreBounds(t *testing.T) {
	overAwarded := map[string]any{
		"concepts": []map[string]any{
			verdict("Light energy is absorbed by chlorophyll", true, "excellent", "chlorophyll", 5),
			verdict("Carbon dioxide and water form glucose", false, "none", "", 1),
			verdict("Oxygen is released", true, "good", "oxygen", 1),
		},
		"overall_quality": "excellent",
		"confidence":      0.95,
		"marks_awarded":   9,
	}

	tests := []struct {
		name       string
		strictness Strictness
		review     bool
	}{
		{"clamp notes without review", StrictnessClamp, false},
		{"flag forces review", StrictnessFlag, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", overAwarded)
			eval := evaluate(t, newEvaluator(t, provider, tt.strictness), photosynthesisQuestion(), photosynthesisAnswer)

			assert.Equal(t, 2.0, eval.Concepts[0].PointsEarned, "capped at concept points")
			assert.Zero(t, eval.Concepts[1].PointsEarned, "absent concept earns nothing")
			assert.Equal(t, 3.0, eval.MarksAwarded, "awarded reduced to earned points")
			assert.LessOrEqual(t, eval.PointsEarned(), 5.0)
			assert.Equal(t, tt.review, eval.RequiresHumanReview)
			assert.Len(t, eval.ReviewReasons, 3)
		})
	}
}

func TestAnswerEvaluator_ScalesToMaxMarks(t *testing.T) {
	q := domain.AnalyzedQuestion{
		ID:       "q2",
		Text:     "List three noble gases.",
		MaxMarks: 2,
		KeyConcepts: []domain.KeyConcept{
			{Text: "Helium", Points: 1},
			{Text: "Neon", Points: 1},
			{Text: "Argon", Points: 1},
		},
	}
	provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", map[string]any{
		"concepts": []map[string]any{
			verdict("Helium", true, "excellent", "helium", 1),
			verdict("Neon", true, "excellent", "neon", 1),
			verdict("Argon", true, "excellent", "argon", 1),
		},
		"overall_quality": "excellent",
		"confidence":      0.9,
		"marks_awarded":   2,
	})

	eval := evaluate(t, newEvaluator(t, provider, StrictnessClamp), q, "helium, neon, argon")

	assert.LessOrEqual(t, eval.PointsEarned(), 2.0)
	assert.LessOrEqual(t, eval.MarksAwarded, eval.PointsEarned())
	assert.InDelta(t, 1.98, eval.MarksAwarded, 0.001)
}

func TestAnswerEvaluator_ReviewTriggers(t *testing.T) {
	t.Run("low confidence", func(t *testing.T) {
		provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", map[string]any{
			"concepts": []map[string]any{
				verdict("Light energy is absorbed by chlorophyll", true, "satisfactory", "light", 1),
				verdict("Carbon dioxide and water form glucose", true, "satisfactory", "glucose", 1),
				verdict("Oxygen is released", false, "none", "", 0),
			},
			"overall_quality": "satisfactory",
			"confidence":      0.4,
			"marks_awarded":   2,
		})
		eval := evaluate(t, newEvaluator(t, provider, StrictnessClamp), photosynthesisQuestion(), photosynthesisAnswer)

		assert.True(t, eval.RequiresHumanReview)
		assert.Equal(t, []string{"confidence 0.40 below threshold 0.70"}, eval.ReviewReasons)
	})

	t.Run("high tier with missing mandatory concept", func(t *testing.T) {
		provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", map[string]any{
			"concepts": []map[string]any{
				verdict("Light energy is absorbed by chlorophyll", false, "none", "", 0),
				verdict("Carbon dioxide and water form glucose", true, "excellent", "glucose", 2),
				verdict("Oxygen is released", true, "good", "oxygen", 1),
			},
			"overall_quality": "good",
			"confidence":      0.9,
			"marks_awarded":   3,
		})
		eval := evaluate(t, newEvaluator(t, provider, StrictnessClamp), photosynthesisQuestion(), photosynthesisAnswer)

		assert.True(t, eval.RequiresHumanReview)
		require.Len(t, eval.ReviewReasons, 1)
		assert.Contains(t, eval.ReviewReasons[0], "missing mandatory concept: Light energy is absorbed by chlorophyll")
	})

	t.Run("unassessed concept is treated as absent", func(t *testing.T) {
		provider := testutils.NewMockProvider("m").OnTool(ToolAnswerEvaluation, "", map[string]any{
			"concepts": []map[string]any{
				verdict("Carbon dioxide and water form glucose", true, "good", "glucose", 2),
			},
			"overall_quality": "satisfactory",
			"confidence":      0.8,
			"marks_awarded":   2,
		})
		eval := evaluate(t, newEvaluator(t, provider, StrictnessFlag), photosynthesisQuestion(), photosynthesisAnswer)

		assert.Equal(t, []string{"Light energy is absorbed by chlorophyll"}, eval.MissingMandatory())
		assert.True(t, eval.RequiresHumanReview)
		assert.Len(t, eval.ReviewReasons, 2)
	})
}

func TestAnswerEvaluator_MalformedTwice(t *testing.T) {
	provider := testutils.NewMockProvider("m").OnMalformed(ToolAnswerEvaluation, "")
	e := newEvaluator(t, provider, StrictnessClamp)

	reply := e.Process(context.Background(), domain.NewRequest("o", EvaluatorID, "c",
		domain.EvaluateRequest{Question: photosynthesisQuestion(), Answer: photosynthesisAnswer}))

	assert.Equal(t, domain.KindError, reply.Kind)
	assert.ErrorIs(t, reply.Err(), domain.ErrMalformedOutput)
	assert.Equal(t, 2, provider.Calls())
}
