// Package agents implements the specialised workers of the marking pipeline.
// Each agent consumes a domain.AgentMessage carrying a typed request and
// answers with a response or error message; none of them holds per-call
// state, so one instance serves any number of submissions concurrently.
//
// Agents that need model judgment ask for structured output through a forced
// tool call. A reply that does not match the tool schema is re-prompted once
// with stricter instructions before the agent gives up with
// domain.ErrMalformedOutput.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Agent identifiers, used as message sender and receiver ids.
const (
	AnalyzerID  = "question_analyzer"
	EvaluatorID = "answer_evaluator"
	ScoringID   = "scoring"
	FeedbackID  = "feedback_generator"
	QAID        = "qa"
)

// Operation names attached to the usage scope of each model call.
const (
	OpAnalyzeGuide    = "analyze_guide"
	OpAnalyzeQuestion = "analyze_question"
	OpEvaluateAnswer  = "evaluate_answer"
	OpFeedback        = "generate_feedback"
)

// DefaultMaxConcurrency bounds agent fan-out when no limit is configured.
// Token limits and temperature default to the provider's configuration.
const DefaultMaxConcurrency = 4

// validate checks decoded tool input beyond what the JSON Schema expresses.
var validate = validator.New()

const strictReminder = "Your previous reply could not be used. Call the %s tool exactly once. " +
	"Every required field must be present with the declared type. Do not reply with prose."

// callTool runs req with tool forced and decodes the invocation into out.
// A malformed reply is re-prompted once. Transport errors are returned as is.
func callTool(ctx context.Context, provider ports.Provider, req ports.GenerationRequest, tool ports.ToolDefinition, out any) error {
	req.Tools = []ports.ToolDefinition{tool}
	req.ToolChoice = ports.ForceTool(tool.Name)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			req.Messages = withStrictReminder(req.Messages, tool.Name)
		}

		resp, err := provider.Generate(ctx, req)
		if err != nil {
			return err
		}

		lastErr = decodeInvocation(resp, tool, out)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrMalformedOutput, tool.Name, lastErr)
}

// withStrictReminder appends the reminder to the final user turn.
func withStrictReminder(messages []ports.Message, tool string) []ports.Message {
	out := make([]ports.Message, len(messages))
	copy(out, messages)
	reminder := fmt.Sprintf(strictReminder, tool)
	if n := len(out); n > 0 && out[n-1].Role == ports.RoleUser {
		out[n-1].Content += "\n\n" + reminder
		return out
	}
	return append(out, ports.UserMessage(reminder))
}

var errNoInvocation = errors.New("no tool invocation in reply")

func decodeInvocation(resp ports.GenerationResponse, tool ports.ToolDefinition, out any) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	switch resp.StopReason {
	case ports.StopLengthLimit:
		return ports.ErrTokenLimitExceeded
	case ports.StopReasonError:
		return ports.ErrInvalidResponse
	}

	inv, ok := resp.Invocation(tool.Name)
	if !ok {
		return errNoInvocation
	}
	if err := llm.ValidateToolInput(tool, inv.Input); err != nil {
		return err
	}
	if err := json.Unmarshal(inv.Input, out); err != nil {
		return fmt.Errorf("decode %s input: %w", tool.Name, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s input: %w", tool.Name, err)
	}
	return nil
}

// requestPayload extracts the typed request of msg, failing on anything else.
func requestPayload[T any](msg domain.AgentMessage) (T, error) {
	if msg.Kind != domain.KindRequest {
		var zero T
		return zero, fmt.Errorf("%w: expected a request, got %s", domain.ErrUnexpectedPayload, msg.Kind)
	}
	return domain.PayloadAs[T](msg)
}
