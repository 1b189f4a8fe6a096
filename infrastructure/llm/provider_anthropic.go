package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Anthropic provider constants
const (
	// AnthropicDefaultModel is the default Anthropic model (Claude 3.5 Sonnet)
	AnthropicDefaultModel = "claude-3-5-sonnet-20241022"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Claude API.
// Tools are sent natively and tool_use blocks are mapped onto invocations.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// Retries belong to RetryMiddleware so backoff and classification are
	// the same for every vendor.
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		base, err := parseBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if hc := timeoutClient(config.Timeout); hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}

	return &anthropicProvider{
		BaseProvider:    newBaseProvider("anthropic", config, AnthropicDefaultModel),
		client:          anthropic.NewClient(opts...),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends a request to Anthropic's Messages API and returns the
// mapped response.
func (p *anthropicProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	options := p.resolveOptions(req)

	params, err := p.buildAnthropicParams(req, options)
	if err != nil {
		return ports.GenerationResponse{}, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ports.GenerationResponse{}, p.handleError(err)
	}
	if message == nil {
		return ports.GenerationResponse{}, NewProviderError(p.name, ErrorTypeServerError, 0, "nil message", ErrEmptyResponse)
	}

	return p.processResponse(message, req), nil
}

// buildAnthropicParams creates the API request parameters.
func (p *anthropicProvider) buildAnthropicParams(req ports.GenerationRequest, options RequestOptions) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == ports.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  messages,
	}

	if options.Temperature != nil {
		params.Temperature = anthropic.Float(clampTemperature(*options.Temperature, anthropicMaxTemperature))
	}

	if options.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: options.System}}
	}

	// ToolChoice none is expressed by not offering the tools at all.
	if len(req.Tools) == 0 || req.ToolChoice.Mode == ports.ToolChoiceNone {
		return params, nil
	}

	params.Tools = make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
		}
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return params, fmt.Errorf("tool %s: invalid schema: %w", t.Name, err)
		}
		tool := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema.Properties},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	if req.ToolChoice.Mode == ports.ToolChoiceTool {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice.Name},
		}
	} else {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	return params, nil
}

// processResponse maps content blocks, the stop reason and usage.
func (p *anthropicProvider) processResponse(message *anthropic.Message, req ports.GenerationRequest) ports.GenerationResponse {
	var text strings.Builder
	out := ports.GenerationResponse{Model: p.model}

	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			out.ToolInvocations = append(out.ToolInvocations, ports.ToolInvocation{
				Name:  content.Name,
				Input: content.Input,
			})
		}
	}

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		out.StopReason = ports.StopToolInvoked
	case anthropic.StopReasonMaxTokens:
		out.StopReason = ports.StopLengthLimit
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		out.StopReason = ports.StopEnd
	default:
		out.StopReason = ports.StopReasonError
	}

	// A forced tool sometimes ends with end_turn; the blocks are authoritative.
	if len(out.ToolInvocations) > 0 && out.StopReason != ports.StopLengthLimit {
		out.StopReason = ports.StopToolInvoked
	}
	if out.StopReason == ports.StopToolInvoked {
		if len(out.ToolInvocations) == 0 {
			out.StopReason = ports.StopReasonError
		}
		for _, inv := range out.ToolInvocations {
			if !json.Valid(inv.Input) {
				out.StopReason = ports.StopReasonError
				out.ToolInvocations = nil
				break
			}
		}
	}

	out.Text = text.String()
	out.Usage = ports.Usage{
		InputTokens:  reportedOr(int(message.Usage.InputTokens), p.estimator, req.Prompt()),
		OutputTokens: reportedOr(int(message.Usage.OutputTokens), p.estimator, out.Text),
	}
	if out.StopReason == ports.StopReasonError {
		out.Text = ""
	}
	return out
}

// handleError classifies Anthropic SDK errors.
func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return p.errorClassifier.ClassifyHTTPError(anthropicErr.StatusCode, "", err)
	}

	return NewProviderError(p.name, ErrorTypeNetwork, 0, "request failed", err)
}
