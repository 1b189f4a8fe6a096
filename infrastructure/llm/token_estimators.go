package llm

import (
	"math"
	"strings"
)

// CharsPerToken estimates tokens from the character count, rounding up so
// any non-empty text costs at least one token. Non-positive ratios use 4.
type CharsPerToken float64

func (r CharsPerToken) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ratio := float64(r)
	if ratio <= 0 {
		ratio = 4
	}
	return int(math.Ceil(float64(len(text)) / ratio))
}

// TokensPerWord estimates tokens from the whitespace-separated word count.
// Non-positive ratios use 0.75.
type TokensPerWord float64

func (r TokensPerWord) EstimateTokens(text string) int {
	ratio := float64(r)
	if ratio <= 0 {
		ratio = 0.75
	}
	return int(float64(len(strings.Fields(text))) * ratio)
}

// Published ratios for English text. Ollama serves many tokenizers, so
// words are the steadier unit there.
var vendorEstimators = map[string]TokenEstimator{
	"openai":    CharsPerToken(4),
	"anthropic": CharsPerToken(3.5),
	"google":    CharsPerToken(4),
	"ollama":    TokensPerWord(1.3),
}

// EstimatorFor returns the estimator used for provider. Providers without a
// published ratio are estimated at four characters per token.
func EstimatorFor(provider string) TokenEstimator {
	if e, ok := vendorEstimators[provider]; ok {
		return e
	}
	return CharsPerToken(4)
}

// reportedOr returns the vendor-reported count when there is one and an
// estimate of text otherwise.
func reportedOr(reported int, est TokenEstimator, text string) int {
	if reported > 0 {
		return reported
	}
	return est.EstimateTokens(text)
}
