// Package llm provides a unified interface for calling language models from
// several vendors, with built-in support for structured tool output, rate
// limiting, retries, circuit breaking, usage accounting, metrics and tracing.
//
// Vendors (OpenAI, Anthropic, Google, and OpenAI-compatible local servers
// such as Ollama) sit behind the CoreLLM interface. Cross-cutting behaviour is
// added by wrapping a CoreLLM in Middleware, so marking code never depends on
// a vendor SDK.
//
// Architecture:
//   - Provider implementations registered by name through init()
//   - Native tool calling where the vendor offers it, prompt emulation otherwise
//   - Middleware chain assembled per client by the Factory
//   - Pluggable token estimation for vendors without a local tokenizer
//
// Basic usage:
//
//	factory := llm.NewFactory(llm.FactoryOptions{Timeout: 60 * time.Second})
//	provider, err := factory.Build(ports.ProviderConfig{
//	    Provider: "anthropic",
//	    Model:    "claude-3-5-sonnet-20241022",
//	})
//	resp, err := provider.Generate(ctx, ports.GenerationRequest{
//	    Messages:   []ports.Message{ports.UserMessage("Grade this answer")},
//	    Tools:      []ports.ToolDefinition{evaluationTool},
//	    ToolChoice: ports.ForceTool(evaluationTool.Name),
//	})
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// CoreLLM defines the minimal interface that vendor adapters implement and
// middleware wraps.
type CoreLLM interface {
	// DoRequest performs one model call. Vendor failures are returned as
	// *ProviderError. A reply that could not be parsed into the requested
	// tool output is returned with ports.StopReasonError and a nil error.
	DoRequest(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error)

	// GetModel returns the configured model name.
	GetModel() string

	// ProviderName returns the registered name of the vendor adapter.
	ProviderName() string
}

// TokenEstimator provides pluggable token estimation strategies.
// Vendors tokenize differently, so this lets callers pick a counting
// approach for cost previews and prompt budgeting.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for the given text.
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the vendor. Local providers ignore it.
	APIKey string

	// Model specifies which model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout bounds the HTTP client used by the vendor SDK.
	// Zero value means the SDK default.
	Timeout time.Duration

	// MaxOutputTokens is used when a request does not set MaxTokens.
	MaxOutputTokens int

	// Temperature is used when a request does not set one.
	Temperature *float64

	// TokenEstimator provides custom token counting logic.
	// If nil, a character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware wraps the provider. The first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// layer is embedded by middleware to forward the identity methods to the
// wrapped CoreLLM.
type layer struct{ next CoreLLM }

func (l layer) GetModel() string     { return l.next.GetModel() }
func (l layer) ProviderName() string { return l.next.ProviderName() }

// Client implements ports.Provider on top of a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.Provider = (*Client)(nil)

// NewClient creates a new LLM client with the specified provider and
// configuration, assembling the middleware chain around the vendor adapter.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := GetProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = EstimatorFor(core.ProviderName())
	}

	return &Client{
		core:      core,
		estimator: estimator,
	}, nil
}

// Generate sends a request through the middleware chain.
func (c *Client) Generate(ctx context.Context, req ports.GenerationRequest) (ports.GenerationResponse, error) {
	return c.core.DoRequest(ctx, req)
}

// CountTokens returns an approximate token count for text.
func (c *Client) CountTokens(text string) int { return c.estimator.EstimateTokens(text) }

// Model returns the configured model name.
func (c *Client) Model() string { return c.core.GetModel() }

// Name returns the provider name.
func (c *Client) Name() string { return c.core.ProviderName() }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory registers a vendor adapter under a name. Adapters
// in this package register themselves from init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

// GetProviderFactory looks up a registered adapter.
func GetProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}

// RegisteredProviders lists the registered adapter names in sorted order.
func RegisteredProviders() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
