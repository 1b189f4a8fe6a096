package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

const (
	// OpenAIDefaultModel is used when no model is configured.
	OpenAIDefaultModel = "gpt-4o-mini"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements CoreLLM for the OpenAI chat completions API and
// for OpenAI-compatible servers. With emulateTools set, tool definitions are
// rendered into the prompt instead of being sent as functions.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	errorClassifier *ErrorClassifier
	emulateTools    bool
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	return buildOpenAICompatible("openai", config, OpenAIDefaultModel, false)
}

func buildOpenAICompatible(name string, config ClientConfig, defaultModel string, emulate bool) (*openAIProvider, error) {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		base, err := parseBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		clientConfig.BaseURL = base
	}
	if hc := timeoutClient(config.Timeout); hc != nil {
		clientConfig.HTTPClient = hc
	}

	return &openAIProvider{
		BaseProvider:    newBaseProvider(name, config, defaultModel),
		client:          openai.NewClientWithConfig(clientConfig),
		errorClassifier: &ErrorClassifier{Provider: name},
		emulateTools:    emulate,
	}, nil
}

// DoRequest sends a chat completion request and maps the reply onto the
// provider-neutral response.
func (p *openAIProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	options := p.resolveOptions(req)

	var emulated []ports.ToolDefinition
	if p.emulateTools {
		emulated = emulationTools(req)
	}

	creq, err := p.buildChatCompletionRequest(req, options, emulated)
	if err != nil {
		return ports.GenerationResponse{}, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return ports.GenerationResponse{}, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return ports.GenerationResponse{}, NewProviderError(p.name, ErrorTypeServerError, 0, "no choices", ErrNoResponseChoice)
	}

	choice := resp.Choices[0]
	out := p.mapChoice(choice, emulated)
	out.Model = p.model
	out.Usage = ports.Usage{
		InputTokens:  reportedOr(resp.Usage.PromptTokens, p.estimator, req.Prompt()),
		OutputTokens: reportedOr(resp.Usage.CompletionTokens, p.estimator, choice.Message.Content),
	}
	return out, nil
}

// buildChatCompletionRequest creates an openai.ChatCompletionRequest.
func (p *openAIProvider) buildChatCompletionRequest(
	req ports.GenerationRequest,
	options RequestOptions,
	emulated []ports.ToolDefinition,
) (openai.ChatCompletionRequest, error) {
	messages := p.buildMessages(req, options)

	if len(emulated) > 0 {
		last := len(messages) - 1
		prompt, err := renderEmulatedPrompt(messages[last].Content, emulated)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages[last].Content = prompt
	}

	creq := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: options.MaxTokens,
	}
	if options.Temperature != nil {
		creq.Temperature = float32(*options.Temperature)
		// The client omits a zero temperature; the smallest positive value
		// keeps the request deterministic instead of using the server default.
		if creq.Temperature == 0 {
			creq.Temperature = math.SmallestNonzeroFloat32
		}
	}

	switch {
	case len(emulated) > 0:
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	case !p.emulateTools && len(req.Tools) > 0 && req.ToolChoice.Mode != ports.ToolChoiceNone:
		creq.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			creq.Tools = append(creq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Schema,
				},
			})
		}
		if req.ToolChoice.Mode == ports.ToolChoiceTool {
			creq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.Name},
			}
		}
	}

	return creq, nil
}

// buildMessages creates the message slice, leading with the system prompt.
// The last message is always a user turn.
func (p *openAIProvider) buildMessages(req ports.GenerationRequest, options RequestOptions) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}

	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == ports.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	if len(messages) == 0 || messages[len(messages)-1].Role != openai.ChatMessageRoleUser {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser})
	}
	return messages
}

// mapChoice converts the first choice into a GenerationResponse.
func (p *openAIProvider) mapChoice(choice openai.ChatCompletionChoice, emulated []ports.ToolDefinition) ports.GenerationResponse {
	// A forced function call finishes with "stop", so tool calls are checked
	// before the finish reason.
	if len(choice.Message.ToolCalls) > 0 {
		out := ports.GenerationResponse{StopReason: ports.StopToolInvoked}
		for _, call := range choice.Message.ToolCalls {
			if !json.Valid([]byte(call.Function.Arguments)) {
				return ports.GenerationResponse{StopReason: ports.StopReasonError}
			}
			out.ToolInvocations = append(out.ToolInvocations, ports.ToolInvocation{
				Name:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			})
		}
		return out
	}

	switch choice.FinishReason {
	case openai.FinishReasonLength:
		return ports.GenerationResponse{Text: choice.Message.Content, StopReason: ports.StopLengthLimit}
	case openai.FinishReasonContentFilter:
		return ports.GenerationResponse{StopReason: ports.StopReasonError}
	}

	if len(emulated) > 0 {
		return parseEmulatedReply(choice.Message.Content, emulated)
	}
	return ports.GenerationResponse{Text: choice.Message.Content, StopReason: ports.StopEnd}
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}

	return NewProviderError(p.name, ErrorTypeNetwork, 0, "request failed", err)
}
