// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a generation request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is shorthand for a user turn.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// ToolDefinition describes a structured output the model may produce. Schema
// is a JSON Schema object describing the tool input.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ToolChoice constrains whether and which tool the model invokes.
type ToolChoice struct {
	// Mode is "auto", "none" or "tool". The zero value means auto.
	Mode string `json:"mode,omitempty"`
	// Name is the forced tool when Mode is "tool".
	Name string `json:"name,omitempty"`
}

// Tool choice modes.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
	ToolChoiceTool = "tool"
)

// ForceTool returns a choice that requires the named tool.
func ForceTool(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceTool, Name: name} }

// GenerationRequest is a provider-neutral model call.
type GenerationRequest struct {
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  ToolChoice       `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// Prompt joins all message contents, used for token estimation.
func (r GenerationRequest) Prompt() string {
	out := r.System
	for _, m := range r.Messages {
		if out != "" {
			out += "\n"
		}
		out += m.Content
	}
	return out
}

// StopReason explains why the model stopped generating.
type StopReason string

// Stop reasons every provider maps its vendor values onto.
const (
	StopEnd         StopReason = "end"
	StopLengthLimit StopReason = "length_limit"
	StopToolInvoked StopReason = "tool_invoked"
	StopReasonError StopReason = "error"
)

// ToolInvocation is one tool call parsed from a response.
type ToolInvocation struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// GenerationResponse is a provider-neutral model reply.
type GenerationResponse struct {
	Text            string           `json:"text"`
	StopReason      StopReason       `json:"stop_reason"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	Usage           Usage            `json:"usage"`
	Model           string           `json:"model,omitempty"`
}

// ErrInconsistentResponse is returned by Validate when a response breaks the
// stop-reason contract.
var ErrInconsistentResponse = errors.New("inconsistent generation response")

// Validate checks the stop-reason contract: a tool stop carries at least one
// invocation, and an error stop carries no text.
func (r GenerationResponse) Validate() error {
	switch r.StopReason {
	case StopToolInvoked:
		if len(r.ToolInvocations) == 0 {
			return fmt.Errorf("%w: tool_invoked without invocations", ErrInconsistentResponse)
		}
	case StopReasonError:
		if r.Text != "" {
			return fmt.Errorf("%w: error stop with text", ErrInconsistentResponse)
		}
	case StopEnd, StopLengthLimit:
	default:
		return fmt.Errorf("%w: unknown stop reason %q", ErrInconsistentResponse, r.StopReason)
	}
	return nil
}

// Invocation returns the first invocation of the named tool.
func (r GenerationResponse) Invocation(name string) (ToolInvocation, bool) {
	for _, inv := range r.ToolInvocations {
		if inv.Name == name {
			return inv, true
		}
	}
	return ToolInvocation{}, false
}

// Provider is a configured connection to one model. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Generate performs one model call. Transport failures are returned as
	// errors; a response the model produced but that could not be parsed is
	// returned with StopReasonError and no error.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)

	// CountTokens estimates the token count of text for this model.
	CountTokens(text string) int

	// Model returns the model identifier.
	Model() string

	// Name returns the provider name, such as "openai".
	Name() string
}

// ProviderConfig selects and configures a provider. It is treated as
// immutable once a provider has been built from it.
type ProviderConfig struct {
	Provider        string  `yaml:"provider" mapstructure:"provider" validate:"required"`
	Model           string  `yaml:"model_id" mapstructure:"model_id" validate:"required"`
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	MaxOutputTokens int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens" validate:"gte=0"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
}
