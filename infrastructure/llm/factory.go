package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// ProviderDefaults describes how the Factory fills in configuration a
// ports.ProviderConfig leaves empty.
type ProviderDefaults struct {
	// EnvVar holds the API key when the configuration does not.
	EnvVar string
	// DefaultModel is used when no model is configured.
	DefaultModel string
	// RequiresKey is false for local servers.
	RequiresKey bool
}

// DefaultProviders lists the vendors the Factory can build.
var DefaultProviders = map[string]ProviderDefaults{
	"openai": {
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
		RequiresKey:  true,
	},
	"anthropic": {
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
		RequiresKey:  true,
	},
	"google": {
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
		RequiresKey:  true,
	},
	"ollama": {
		EnvVar:       "OLLAMA_API_KEY",
		DefaultModel: OllamaDefaultModel,
	},
}

// RetryOptions configures RetryMiddleware.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// CircuitBreakerOptions configures CircuitBreakerMiddleware. A zero
// MaxFailures disables the breaker.
type CircuitBreakerOptions struct {
	MaxFailures int
	Cooldown    time.Duration
}

// FactoryOptions holds what every client built by a Factory shares.
type FactoryOptions struct {
	// Timeout bounds each provider call. Zero disables the timeout layer.
	Timeout time.Duration
	// MaxConcurrent caps in-flight calls per client. Zero means unbounded.
	MaxConcurrent int
	// RateLimit is requests per second per client. Zero means unlimited.
	RateLimit float64
	// RateBurst is the token bucket size; defaults to 1.
	RateBurst      int
	Retry          RetryOptions
	CircuitBreaker CircuitBreakerOptions

	// Metrics, Ledger and ServiceName enable the matching middleware when
	// set. They are the only state two clients share.
	Metrics        ports.MetricsCollector
	BreakerMetrics CircuitBreakerMetrics
	Ledger         ports.UsageLedger
	ServiceName    string

	Logger zerolog.Logger

	// Getenv resolves credential fallbacks. Defaults to os.Getenv.
	Getenv func(string) string
}

// Factory builds ports.Provider values from configuration. It holds no
// per-client state: each Build returns a fresh provider and middleware chain.
type Factory struct {
	opts FactoryOptions
}

// NewFactory creates a Factory.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &Factory{opts: opts}
}

// Build constructs a provider for cfg. Unknown providers and missing
// credentials are returned as *ports.ConfigError.
func (f *Factory) Build(cfg ports.ProviderConfig) (ports.Provider, error) {
	defaults, ok := DefaultProviders[cfg.Provider]
	if !ok {
		if _, registered := GetProviderFactory(cfg.Provider); !registered {
			return nil, ports.NewConfigError("provider", fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider))
		}
	}

	apiKey := cfg.APIKey
	if apiKey == "" && defaults.EnvVar != "" {
		apiKey = f.opts.Getenv(defaults.EnvVar)
	}
	if apiKey == "" && defaults.RequiresKey {
		return nil, ports.NewConfigError("api_key",
			fmt.Errorf("%w: set api_key or %s for provider %q", ErrEmptyAPIKey, defaults.EnvVar, cfg.Provider))
	}

	model := cfg.Model
	if model == "" {
		model = defaults.DefaultModel
	}

	// Zero is a real setting here: marking defaults to deterministic output.
	temperature := cfg.Temperature

	client, err := NewClient(cfg.Provider, ClientConfig{
		APIKey:          apiKey,
		Model:           model,
		BaseURL:         cfg.BaseURL,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Temperature:     &temperature,
		TokenEstimator:  EstimatorFor(cfg.Provider),
		Middleware:      f.middleware(),
	})
	if err != nil {
		return nil, ports.NewConfigError("provider", err)
	}

	f.opts.Logger.Debug().
		Str("provider", cfg.Provider).
		Str("model", model).
		Msg("built provider client")
	return client, nil
}

// middleware assembles a fresh chain, outermost first.
func (f *Factory) middleware() []Middleware {
	o := f.opts
	var chain []Middleware

	if o.ServiceName != "" {
		chain = append(chain, TracingMiddleware(o.ServiceName))
	}
	if o.Metrics != nil {
		chain = append(chain, MetricsMiddleware(o.Metrics))
	}
	if o.Ledger != nil {
		chain = append(chain, UsageMiddleware(o.Ledger, o.Logger))
	}
	if o.MaxConcurrent > 0 {
		chain = append(chain, ConcurrencyLimitMiddleware(o.MaxConcurrent))
	}
	if o.RateLimit > 0 {
		chain = append(chain, RateLimitMiddleware(rate.Limit(o.RateLimit), o.RateBurst))
	}
	if o.Retry.MaxRetries > 0 {
		chain = append(chain, RetryMiddleware(o.Retry.MaxRetries, o.Retry.BaseDelay, o.Retry.MaxDelay))
	}
	if o.CircuitBreaker.MaxFailures > 0 {
		chain = append(chain, CircuitBreakerMiddlewareWithMetrics(o.CircuitBreaker.MaxFailures, o.CircuitBreaker.Cooldown, o.BreakerMetrics))
	}
	if o.Timeout > 0 {
		chain = append(chain, TimeoutMiddleware(o.Timeout))
	}
	return chain
}
