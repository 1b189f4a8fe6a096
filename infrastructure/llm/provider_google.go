package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// GoogleDefaultModel is used when no model is configured.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
// Structured output is requested as JSON and tool calls are emulated through
// the prompt.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a new Google Gemini provider instance.
// It returns an error if the required configuration is missing or invalid.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	authConfig, err := buildAuthConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	client, err := genai.NewClient(context.Background(), authConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    newBaseProvider("google", config, GoogleDefaultModel),
		client:          client,
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a request to the Google Gemini API and returns the mapped
// response.
func (p *googleProvider) DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	options := p.resolveOptions(req)
	tools := emulationTools(req)

	contents, err := p.buildContents(req, tools)
	if err != nil {
		return ports.GenerationResponse{}, err
	}
	config := p.buildGenerationConfig(options, len(tools) > 0)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return ports.GenerationResponse{}, p.handleError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return ports.GenerationResponse{}, NewProviderError(p.name, ErrorTypeServerError, 0, "no candidates", ErrNoResponseChoice)
	}

	content := resp.Text()
	out := p.mapCandidate(resp.Candidates[0], content, tools)
	out.Model = p.model
	out.Usage = p.usage(resp.UsageMetadata, req.Prompt(), content)
	return out, nil
}

// mapCandidate converts the first candidate into a GenerationResponse.
func (p *googleProvider) mapCandidate(candidate *genai.Candidate, content string, tools []ports.ToolDefinition) ports.GenerationResponse {
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		return ports.GenerationResponse{Text: content, StopReason: ports.StopLengthLimit}
	case genai.FinishReasonSafety, genai.FinishReasonRecitation,
		genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
		return ports.GenerationResponse{StopReason: ports.StopReasonError}
	}

	if len(tools) > 0 {
		return parseEmulatedReply(content, tools)
	}
	return ports.GenerationResponse{Text: content, StopReason: ports.StopEnd}
}

// usage reads token counts from the response metadata, estimating any the
// API left out.
func (p *googleProvider) usage(meta *genai.GenerateContentResponseUsageMetadata, prompt, reply string) ports.Usage {
	var in, out int
	if meta != nil {
		in, out = int(meta.PromptTokenCount), int(meta.CandidatesTokenCount)
	}
	return ports.Usage{
		InputTokens:  reportedOr(in, p.estimator, prompt),
		OutputTokens: reportedOr(out, p.estimator, reply),
	}
}

// buildContents converts the conversation into Gemini contents. Tool
// instructions are appended to the final user turn.
func (p *googleProvider) buildContents(req ports.GenerationRequest, tools []ports.ToolDefinition) ([]*genai.Content, error) {
	messages := req.Messages
	if len(messages) == 0 || messages[len(messages)-1].Role != ports.RoleUser {
		messages = append(append([]ports.Message(nil), messages...), ports.UserMessage(""))
	}

	contents := make([]*genai.Content, 0, len(messages))
	for i, m := range messages {
		text := m.Content
		if i == len(messages)-1 && len(tools) > 0 {
			rendered, err := renderEmulatedPrompt(text, tools)
			if err != nil {
				return nil, err
			}
			text = rendered
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == ports.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents, nil
}

// buildGenerationConfig maps resolved options onto Gemini's config. Tool
// calls are emulated, so a forced tool asks for a JSON reply.
func (p *googleProvider) buildGenerationConfig(options RequestOptions, jsonOutput bool) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if t := options.Temperature; t != nil {
		config.Temperature = genai.Ptr(float32(*t))
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(options.MaxTokens, math.MaxInt32)) // #nosec G115 - bounded above
	}
	if options.System != "" {
		config.SystemInstruction = genai.NewContentFromText(options.System, genai.RoleUser)
	}
	if jsonOutput {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

// handleError classifies failures from both the genai SDK and the older
// googleapi transport. Gemini reports quota exhaustion with status
// RESOURCE_EXHAUSTED, sometimes under a 400.
func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		code := genaiErr.Code
		if strings.EqualFold(genaiErr.Status, "RESOURCE_EXHAUSTED") {
			code = 429
		}
		return p.errorClassifier.ClassifyHTTPError(code, genaiErr.Message, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(p.name, ErrorTypeNetwork, 0, "request failed", err)
	}
	if blockedBySafety(apiErr) {
		return NewProviderError(p.name, ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
	}
	message := apiErr.Message
	if message == "" && len(apiErr.Errors) > 0 {
		message = apiErr.Errors[0].Message
	}
	return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
}

var safetyWords = []string{"safety", "policy", "blocked"}

func blockedBySafety(apiErr *googleapi.Error) bool {
	lower := strings.ToLower(apiErr.Message)
	for _, w := range safetyWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}

// buildAuthConfig accepts API keys only. Something that looks like a
// service account file is rejected with a pointer to the variable the SDK
// reads instead.
func buildAuthConfig(config ClientConfig) (*genai.ClientConfig, error) {
	if looksLikeFilePath(config.APIKey) {
		if _, err := os.Stat(config.APIKey); err != nil {
			return nil, fmt.Errorf("credentials file not found: %s", config.APIKey)
		}
		return nil, errors.New("service account authentication is not supported; " +
			"use an API key or set GOOGLE_APPLICATION_CREDENTIALS")
	}

	cc := &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI}
	if config.BaseURL != "" {
		base, err := parseBaseURL(config.BaseURL)
		if err != nil {
			return nil, err
		}
		cc.HTTPOptions.BaseURL = base
	}
	return cc, nil
}

var credentialSuffixes = []string{".json", ".p12", ".pem"}

func looksLikeFilePath(s string) bool {
	if filepath.IsAbs(s) || strings.ContainsAny(s, `/\`) {
		return true
	}
	lower := strings.ToLower(s)
	for _, suffix := range credentialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, "credentials")
}
