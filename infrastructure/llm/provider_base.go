package llm

import (
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// DefaultMaxTokens is used when neither the request nor the client sets an
// output limit. Anthropic requires one on every call.
const DefaultMaxTokens = 4096

// BaseProvider carries what every vendor adapter shares: its name, the
// configured model and the request defaults from ClientConfig.
type BaseProvider struct {
	name            string
	model           string
	maxOutputTokens int
	temperature     *float64
	// estimator fills in token counts a vendor leaves out.
	estimator TokenEstimator
}

func newBaseProvider(name string, config ClientConfig, defaultModel string) BaseProvider {
	model := config.Model
	if model == "" {
		model = defaultModel
	}
	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = EstimatorFor(name)
	}
	return BaseProvider{
		name:            name,
		model:           model,
		maxOutputTokens: config.MaxOutputTokens,
		temperature:     config.Temperature,
		estimator:       estimator,
	}
}

// GetModel returns the name of the model configured for the provider.
func (b *BaseProvider) GetModel() string { return b.model }

// ProviderName returns the adapter's registered name.
func (b *BaseProvider) ProviderName() string { return b.name }

// RequestOptions is a request with client defaults applied.
type RequestOptions struct {
	MaxTokens   int
	Temperature *float64
	System      string
}

// resolveOptions applies client defaults to the request's optional fields.
func (b *BaseProvider) resolveOptions(req ports.GenerationRequest) RequestOptions {
	opts := RequestOptions{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = b.maxOutputTokens
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature == nil {
		opts.Temperature = b.temperature
	}
	if opts.Temperature != nil {
		t := clampTemperature(*opts.Temperature, maxTemperature)
		opts.Temperature = &t
	}
	return opts
}
