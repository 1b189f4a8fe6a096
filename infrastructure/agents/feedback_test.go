package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/testutils"
)

func feedbackRequest() domain.FeedbackRequest {
	return domain.FeedbackRequest{
		Question: photosynthesisQuestion(),
		Answer:   photosynthesisAnswer,
		Evaluation: domain.AnswerEvaluation{
			QuestionID:   "q1",
			MarksAwarded: 4,
			Strengths:    []string{"Good use of terminology"},
			Concepts: []domain.ConceptResult{
				{Concept: "Light energy is absorbed by chlorophyll", Present: true, Accuracy: domain.TierGood},
				{Concept: "Oxygen is released", Accuracy: domain.TierNone},
			},
		},
	}
}

func generateFeedback(t *testing.T, f *FeedbackGenerator) domain.FeedbackResponse {
	t.Helper()
	reply := f.Process(context.Background(), domain.NewRequest("o", FeedbackID, "c", feedbackRequest()))
	resp, err := domain.PayloadAs[domain.FeedbackResponse](reply)
	require.NoError(t, err)
	return resp
}

func TestFeedbackGenerator_Generates(t *testing.T) {
	provider := testutils.NewMockProvider("m").OnText("", "  Well explained. Mention that oxygen is released.  ")
	f, err := NewFeedbackGenerator(provider, FeedbackConfig{}, zerolog.Nop())
	require.NoError(t, err)

	resp := generateFeedback(t, f)
	assert.Equal(t, "Well explained. Mention that oxygen is released.", resp.Feedback)
	assert.False(t, resp.Degraded)

	req := provider.Requests()[0]
	assert.Empty(t, req.Tools)
	assert.Zero(t, req.MaxTokens, "the provider's limit applies")
	assert.Nil(t, req.Temperature)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "earned 4 of 5 marks")
	assert.Contains(t, prompt, "Strengths: Good use of terminology")
	assert.Contains(t, prompt, "Missing or weak concepts: Oxygen is released")
}

func TestFeedbackGenerator_Degrades(t *testing.T) {
	tests := []struct {
		name     string
		provider *testutils.MockProvider
	}{
		{"transport error", testutils.NewMockProvider("m").OnError("", "", ports.ErrServiceUnavailable)},
		{"empty text", testutils.NewMockProvider("m").OnText("", "   ")},
		{"unparseable reply", testutils.NewMockProvider("m").OnMalformed("", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFeedbackGenerator(tt.provider, FeedbackConfig{Fallback: "See your teacher."}, zerolog.Nop())
			require.NoError(t, err)

			resp := generateFeedback(t, f)
			assert.Equal(t, "See your teacher.", resp.Feedback)
			assert.True(t, resp.Degraded)
		})
	}
}

func TestFeedbackGenerator_DefaultFallback(t *testing.T) {
	f, err := NewFeedbackGenerator(testutils.NewMockProvider("m"), FeedbackConfig{}, zerolog.Nop())
	require.NoError(t, err)

	resp := generateFeedback(t, f)
	assert.Equal(t, DefaultFallbackFeedback, resp.Feedback)
	assert.True(t, resp.Degraded)
}

func TestFeedbackGenerator_ProviderSettingsReachTheWire(t *testing.T) {
	override, zero := 0.2, 0.0

	tests := []struct {
		name            string
		config          FeedbackConfig
		wantTemperature float64
		wantMaxTokens   float64
	}{
		{"provider settings", FeedbackConfig{}, 0.9, 100},
		{"agent override", FeedbackConfig{MaxTokens: 64, Temperature: &override}, 0.2, 64},
		{"zero temperature is sent", FeedbackConfig{Temperature: &zero}, 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"id":     "chatcmpl-test",
					"object": "chat.completion",
					"model":  "llama3.1",
					"choices": []map[string]any{{
						"index":         0,
						"message":       map[string]any{"role": "assistant", "content": "Well explained."},
						"finish_reason": "stop",
					}},
					"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 3, "total_tokens": 43},
				})
			}))
			defer server.Close()

			provider, err := llm.NewFactory(llm.FactoryOptions{
				Getenv: func(string) string { return "" },
				Logger: zerolog.Nop(),
			}).Build(ports.ProviderConfig{
				Provider:        "ollama",
				Model:           "llama3.1",
				BaseURL:         server.URL + "/v1",
				Temperature:     0.9,
				MaxOutputTokens: 100,
			})
			require.NoError(t, err)

			f, err := NewFeedbackGenerator(provider, tt.config, zerolog.Nop())
			require.NoError(t, err)
			resp := generateFeedback(t, f)
			assert.Equal(t, "Well explained.", resp.Feedback)

			require.NotNil(t, body)
			require.Contains(t, body, "temperature")
			assert.InDelta(t, tt.wantTemperature, body["temperature"], 1e-6)
			assert.Equal(t, tt.wantMaxTokens, body["max_tokens"])
		})
	}
}
