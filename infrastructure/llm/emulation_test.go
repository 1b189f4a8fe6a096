package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var scoreTool = ports.ToolDefinition{
	Name:        "record_score",
	Description: "Record the score for an answer",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"score": {"type": "integer", "description": "Marks awarded"},
			"reason": {"type": "string"}
		},
		"required": ["score"]
	}`),
}

var flagTool = ports.ToolDefinition{
	Name: "record_flag",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"flag": {"type": "string", "enum": ["ok", "review"]},
			"items": {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "string"}}}}
		},
		"required": ["flag"]
	}`),
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare object",
			input:    `{"score": 3}`,
			expected: `{"score": 3}`,
		},
		{
			name:     "json fence",
			input:    "Here you go:\n```json\n{\"score\": 4}\n```\nThanks",
			expected: `{"score": 4}`,
		},
		{
			name:     "generic fence",
			input:    "```\n{\"score\": 5}\n```",
			expected: `{"score": 5}`,
		},
		{
			name:     "object surrounded by prose",
			input:    `The verdict is {"score": 2, "reason": "see {notes}"} and that is final.`,
			expected: `{"score": 2, "reason": "see {notes}"}`,
		},
		{
			name:     "escaped quotes inside strings",
			input:    `{"reason": "said \"hi\" }", "score": 1}`,
			expected: `{"reason": "said \"hi\" }", "score": 1}`,
		},
		{
			name:     "skips invalid leading braces",
			input:    `{not json} then {"score": 7}`,
			expected: `{"score": 7}`,
		},
		{
			name:     "nested objects",
			input:    `result: {"a": {"b": {"c": 1}}}`,
			expected: `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:     "no object",
			input:    "I cannot answer that.",
			expected: "",
		},
		{
			name:     "unbalanced",
			input:    `{"score": 3`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractJSON(tt.input))
		})
	}
}

func TestParseEmulatedReply(t *testing.T) {
	t.Run("single tool takes the object as input", func(t *testing.T) {
		resp := parseEmulatedReply("Sure! {\"score\": 3, \"reason\": \"good\"}", []ports.ToolDefinition{scoreTool})

		assert.Equal(t, ports.StopToolInvoked, resp.StopReason)
		require.Len(t, resp.ToolInvocations, 1)
		assert.Equal(t, "record_score", resp.ToolInvocations[0].Name)
		assert.JSONEq(t, `{"score": 3, "reason": "good"}`, string(resp.ToolInvocations[0].Input))
		assert.NoError(t, resp.Validate())
	})

	t.Run("several tools use the envelope", func(t *testing.T) {
		reply := `{"tool": "record_flag", "arguments": {"flag": "review"}}`
		resp := parseEmulatedReply(reply, []ports.ToolDefinition{scoreTool, flagTool})

		assert.Equal(t, ports.StopToolInvoked, resp.StopReason)
		inv, ok := resp.Invocation("record_flag")
		require.True(t, ok)
		assert.JSONEq(t, `{"flag": "review"}`, string(inv.Input))
	})

	failures := []struct {
		name  string
		reply string
		tools []ports.ToolDefinition
	}{
		{"no json", "three marks", []ports.ToolDefinition{scoreTool}},
		{"missing required field", `{"reason": "x"}`, []ports.ToolDefinition{scoreTool}},
		{"wrong type", `{"score": "three"}`, []ports.ToolDefinition{scoreTool}},
		{"envelope without tool", `{"arguments": {"flag": "ok"}}`, []ports.ToolDefinition{scoreTool, flagTool}},
		{"envelope with unknown tool", `{"tool": "nope", "arguments": {}}`, []ports.ToolDefinition{scoreTool, flagTool}},
		{"enum violation", `{"tool": "record_flag", "arguments": {"flag": "maybe"}}`, []ports.ToolDefinition{scoreTool, flagTool}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseEmulatedReply(tt.reply, tt.tools)

			assert.Equal(t, ports.StopReasonError, resp.StopReason)
			assert.Empty(t, resp.Text)
			assert.Empty(t, resp.ToolInvocations)
			assert.NoError(t, resp.Validate())
		})
	}
}

func TestRenderEmulatedPrompt(t *testing.T) {
	t.Run("single tool", func(t *testing.T) {
		prompt, err := renderEmulatedPrompt("Mark this answer.", []ports.ToolDefinition{scoreTool})
		require.NoError(t, err)

		assert.Contains(t, prompt, "Mark this answer.")
		assert.Contains(t, prompt, "Respond with a single JSON object")
		assert.Contains(t, prompt, `Tool "record_score": Record the score for an answer`)
		assert.Contains(t, prompt, "- reason (string)")
		assert.Contains(t, prompt, "- score (integer, required): Marks awarded")
		assert.NotContains(t, prompt, `"tool": "<tool name>"`)
	})

	t.Run("several tools ask for the envelope", func(t *testing.T) {
		prompt, err := renderEmulatedPrompt("Decide.", []ports.ToolDefinition{scoreTool, flagTool})
		require.NoError(t, err)

		assert.Contains(t, prompt, `"tool": "<tool name>"`)
		assert.Contains(t, prompt, `Tool "record_flag"`)
		assert.Contains(t, prompt, "one of [ok, review]")
	})

	t.Run("invalid schema", func(t *testing.T) {
		_, err := renderEmulatedPrompt("x", []ports.ToolDefinition{{Name: "bad", Schema: json.RawMessage(`{`)}})
		assert.Error(t, err)
	})
}

func TestDescribeSchema(t *testing.T) {
	out, err := describeSchema(flagTool.Schema)
	require.NoError(t, err)

	assert.Equal(t,
		"  - flag (string, required) one of [ok, review]\n"+
			"  - items (array)\n"+
			"    each item:\n"+
			"      - id (string)",
		out)
}

func TestEmulationTools(t *testing.T) {
	tools := []ports.ToolDefinition{scoreTool, flagTool}

	assert.Nil(t, emulationTools(ports.GenerationRequest{}))
	assert.Nil(t, emulationTools(ports.GenerationRequest{Tools: tools, ToolChoice: ports.ToolChoice{Mode: ports.ToolChoiceNone}}))
	assert.Len(t, emulationTools(ports.GenerationRequest{Tools: tools}), 2)

	forced := emulationTools(ports.GenerationRequest{Tools: tools, ToolChoice: ports.ForceTool("record_flag")})
	require.Len(t, forced, 1)
	assert.Equal(t, "record_flag", forced[0].Name)
}

func TestValidateToolInput(t *testing.T) {
	assert.NoError(t, ValidateToolInput(scoreTool, json.RawMessage(`{"score": 1}`)))
	assert.Error(t, ValidateToolInput(scoreTool, json.RawMessage(`{"score": 1.5}`)))
	assert.Error(t, ValidateToolInput(scoreTool, json.RawMessage(`not json`)))
	assert.NoError(t, ValidateToolInput(ports.ToolDefinition{Name: "free"}, json.RawMessage(`{}`)), "no schema accepts anything")
}
