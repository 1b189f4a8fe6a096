package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// mockResponse mirrors the Messages API response body.
type mockResponse struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Content    []mockContent `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason"`
	Usage      mockUsage     `json:"usage"`
}

type mockContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type mockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type mockErrorResponse struct {
	Type  string    `json:"type"`
	Error mockError `json:"error"`
}

type mockError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func anthropicServer(t *testing.T, check func(body map[string]any), status int, resp any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestAnthropic(t *testing.T, url string) CoreLLM {
	t.Helper()
	provider, err := newAnthropicProvider(ClientConfig{APIKey: "test-api-key", BaseURL: url})
	require.NoError(t, err)
	return provider
}

func TestNewAnthropicProvider(t *testing.T) {
	_, err := newAnthropicProvider(ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	_, err = newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: "ftp://x"})
	assert.Error(t, err)

	provider, err := newAnthropicProvider(ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, AnthropicDefaultModel, provider.GetModel())
	assert.Equal(t, "anthropic", provider.ProviderName())
}

func TestAnthropicProvider_DoRequest_Text(t *testing.T) {
	server := anthropicServer(t, func(body map[string]any) {
		assert.Equal(t, AnthropicDefaultModel, body["model"])
		assert.Equal(t, float64(DefaultMaxTokens), body["max_tokens"])
		assert.Len(t, body["messages"], 1)
		assert.NotContains(t, body, "tools")
		system := body["system"].([]any)
		assert.Equal(t, "be terse", system[0].(map[string]any)["text"])
	}, http.StatusOK, mockResponse{
		ID: "msg_1", Type: "message", Role: "assistant", Model: AnthropicDefaultModel,
		Content:    []mockContent{{Type: "text", Text: "Hello! "}, {Type: "text", Text: "Done."}},
		StopReason: "end_turn",
		Usage:      mockUsage{InputTokens: 10, OutputTokens: 15},
	})

	resp, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
		System:   "be terse",
		Messages: []ports.Message{ports.UserMessage("Hello, world!")},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello! Done.", resp.Text)
	assert.Equal(t, ports.StopEnd, resp.StopReason)
	assert.Equal(t, ports.Usage{InputTokens: 10, OutputTokens: 15}, resp.Usage)
	assert.NoError(t, resp.Validate())
}

func TestAnthropicProvider_DoRequest_ForcedTool(t *testing.T) {
	server := anthropicServer(t, func(body map[string]any) {
		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		tool := tools[0].(map[string]any)
		assert.Equal(t, "record_score", tool["name"])
		schema := tool["input_schema"].(map[string]any)
		assert.Contains(t, schema["properties"], "score")

		choice := body["tool_choice"].(map[string]any)
		assert.Equal(t, "tool", choice["type"])
		assert.Equal(t, "record_score", choice["name"])

		assert.LessOrEqual(t, body["temperature"], 1.0, "temperature is clamped to the vendor range")
	}, http.StatusOK, mockResponse{
		ID: "msg_2", Type: "message", Role: "assistant", Model: AnthropicDefaultModel,
		Content: []mockContent{{
			Type: "tool_use", ID: "toolu_1", Name: "record_score",
			Input: json.RawMessage(`{"score": 4, "reason": "clear"}`),
		}},
		StopReason: "tool_use",
		Usage:      mockUsage{InputTokens: 40, OutputTokens: 12},
	})

	temp := 1.7
	resp, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
		Messages:    []ports.Message{ports.UserMessage("score it")},
		Tools:       []ports.ToolDefinition{scoreTool},
		ToolChoice:  ports.ForceTool("record_score"),
		Temperature: &temp,
	})

	require.NoError(t, err)
	assert.Equal(t, ports.StopToolInvoked, resp.StopReason)
	inv, ok := resp.Invocation("record_score")
	require.True(t, ok)
	assert.JSONEq(t, `{"score": 4, "reason": "clear"}`, string(inv.Input))
	assert.NoError(t, resp.Validate())
}

func TestAnthropicProvider_DoRequest_ToolChoiceNoneOmitsTools(t *testing.T) {
	server := anthropicServer(t, func(body map[string]any) {
		assert.NotContains(t, body, "tools")
		assert.NotContains(t, body, "tool_choice")
	}, http.StatusOK, mockResponse{
		Type: "message", Role: "assistant", Content: []mockContent{{Type: "text", Text: "plain"}},
		StopReason: "end_turn", Usage: mockUsage{InputTokens: 1, OutputTokens: 1},
	})

	resp, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
		Messages:   []ports.Message{ports.UserMessage("no tools")},
		Tools:      []ports.ToolDefinition{scoreTool},
		ToolChoice: ports.ToolChoice{Mode: ports.ToolChoiceNone},
	})

	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Text)
}

func TestAnthropicProvider_DoRequest_MaxTokens(t *testing.T) {
	server := anthropicServer(t, nil, http.StatusOK, mockResponse{
		Type: "message", Role: "assistant", Content: []mockContent{{Type: "text", Text: "cut o"}},
		StopReason: "max_tokens", Usage: mockUsage{InputTokens: 3, OutputTokens: 5},
	})

	resp, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
		Messages: []ports.Message{ports.UserMessage("long")},
	})

	require.NoError(t, err)
	assert.Equal(t, ports.StopLengthLimit, resp.StopReason)
	assert.Equal(t, "cut o", resp.Text)
}

func TestAnthropicProvider_DoRequest_TokenFallback(t *testing.T) {
	server := anthropicServer(t, nil, http.StatusOK, mockResponse{
		Type: "message", Role: "assistant", Content: []mockContent{{Type: "text", Text: "0123456789abcdef"}},
		StopReason: "end_turn",
	})

	resp, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
		Messages: []ports.Message{ports.UserMessage("12345678")},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, resp.Usage.InputTokens, "estimated from the prompt")
	assert.Equal(t, 4, resp.Usage.OutputTokens, "estimated from the reply")
}

func TestAnthropicProvider_DoRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		target  error
	}{
		{"auth", http.StatusUnauthorized, "authentication_error", ports.ErrAuthenticationFailed},
		{"rate limit", http.StatusTooManyRequests, "rate_limit_error", ports.ErrRateLimited},
		{"overloaded", 529, "overloaded_error", ports.ErrServiceUnavailable},
		{"bad request", http.StatusBadRequest, "invalid_request_error", ports.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := anthropicServer(t, nil, tt.status, mockErrorResponse{
				Type:  "error",
				Error: mockError{Type: tt.errType, Message: "nope"},
			})

			_, err := newTestAnthropic(t, server.URL).DoRequest(context.Background(), ports.GenerationRequest{
				Messages: []ports.Message{ports.UserMessage("x")},
			})

			require.Error(t, err)
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestAnthropicProvider_DoRequest_ContextCancellation(t *testing.T) {
	server := anthropicServer(t, nil, http.StatusOK, mockResponse{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAnthropic(t, server.URL).DoRequest(ctx, ports.GenerationRequest{
		Messages: []ports.Message{ports.UserMessage("x")},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ports.IsTransient(err))
}
