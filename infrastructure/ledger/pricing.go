// Package ledger implements the append-only cost ledger. Every provider call
// that reports usage is priced from a per-model rate table and stored;
// totals are computed when read.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate is the price of one model in currency units per million tokens.
type Rate struct {
	InputPerMillion  float64 `yaml:"input_per_million" mapstructure:"input_per_million" validate:"gte=0"`
	OutputPerMillion float64 `yaml:"output_per_million" mapstructure:"output_per_million" validate:"gte=0"`
}

// Cost prices a call.
func (r Rate) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*r.InputPerMillion + float64(outputTokens)*r.OutputPerMillion) / 1_000_000
}

// DefaultRates lists list prices for the models the provider adapters
// default to. Local models are free.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4.1":           {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"gpt-4.1-mini":      {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		"claude-3-5-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"claude-3-haiku":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},
		"claude-3-opus":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},
		"gemini-2.0-flash":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"gemini-1.5-pro":    {InputPerMillion: 1.25, OutputPerMillion: 5.00},
		"gemini-1.5-flash":  {InputPerMillion: 0.075, OutputPerMillion: 0.30},
		"llama3.1":          {},
	}
}

// PricingTable resolves model ids to rates. Unknown models fall back to a
// default rate so billing never blocks a marking run.
type PricingTable struct {
	rates    map[string]Rate
	prefixes []string // longest first
	fallback Rate
}

// NewPricingTable builds a table from rates and a fallback.
func NewPricingTable(rates map[string]Rate, fallback Rate) *PricingTable {
	t := &PricingTable{
		rates:    make(map[string]Rate, len(rates)),
		fallback: fallback,
	}
	for model, rate := range rates {
		key := strings.ToLower(model)
		t.rates[key] = rate
		t.prefixes = append(t.prefixes, key)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
	return t
}

// RateFor returns the rate for model and whether it was known. Dated or
// tagged variants match their base model: "claude-3-5-sonnet-20241022" and
// "gpt-4o-2024-08-06" resolve through "claude-3-5-sonnet" and "gpt-4o".
func (t *PricingTable) RateFor(model string) (Rate, bool) {
	key := strings.ToLower(model)
	if r, ok := t.rates[key]; ok {
		return r, true
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			switch key[len(prefix)] {
			case '-', ':', '@', '.':
				return t.rates[prefix], true
			}
		}
	}
	return t.fallback, false
}

// Cost prices a call for model.
func (t *PricingTable) Cost(model string, inputTokens, outputTokens int) float64 {
	rate, _ := t.RateFor(model)
	return rate.Cost(inputTokens, outputTokens)
}

type pricingFile struct {
	Default *Rate           `yaml:"default"`
	Models  map[string]Rate `yaml:"models"`
}

// LoadPricingFile reads YAML rate overrides of the form
//
//	default: {input_per_million: 1, output_per_million: 2}
//	models:
//	  gpt-4o: {input_per_million: 2.5, output_per_million: 10}
//
// The returned rates are merged over base; a nil default leaves fallback
// unchanged.
func LoadPricingFile(path string, base map[string]Rate, fallback Rate) (map[string]Rate, Rate, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fallback, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fallback, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	merged := make(map[string]Rate, len(base)+len(file.Models))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range file.Models {
		if v.InputPerMillion < 0 || v.OutputPerMillion < 0 {
			return nil, fallback, fmt.Errorf("pricing for %s must not be negative", k)
		}
		merged[k] = v
	}
	if file.Default != nil {
		fallback = *file.Default
	}
	return merged, fallback, nil
}
