package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingTable_RateFor(t *testing.T) {
	table := NewPricingTable(DefaultRates(), Rate{InputPerMillion: 1, OutputPerMillion: 2})

	tests := []struct {
		model    string
		expected Rate
		known    bool
	}{
		{"gpt-4o", Rate{2.50, 10.00}, true},
		{"gpt-4o-2024-08-06", Rate{2.50, 10.00}, true},
		{"gpt-4o-mini-2024-07-18", Rate{0.15, 0.60}, true},
		{"claude-3-5-sonnet-20241022", Rate{3.00, 15.00}, true},
		{"Claude-3-Haiku-20240307", Rate{0.25, 1.25}, true},
		{"llama3.1:8b", Rate{}, true},
		{"gpt-4omega", Rate{1, 2}, false},
		{"mystery-model", Rate{1, 2}, false},
		{"", Rate{1, 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			rate, known := table.RateFor(tt.model)
			assert.Equal(t, tt.known, known)
			assert.Equal(t, tt.expected, rate)
		})
	}
}

func TestRate_Cost(t *testing.T) {
	rate := Rate{InputPerMillion: 3, OutputPerMillion: 15}
	assert.InDelta(t, 0.0105, rate.Cost(1000, 500), 1e-12)
	assert.Zero(t, rate.Cost(0, 0))

	table := NewPricingTable(nil, Rate{InputPerMillion: 1})
	assert.InDelta(t, 0.000001, table.Cost("anything", 1, 1000), 1e-12)
}

func TestLoadPricingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  input_per_million: 5
  output_per_million: 20
models:
  gpt-4o:
    input_per_million: 2
    output_per_million: 8
  in-house-model:
    input_per_million: 0.5
    output_per_million: 0.5
`), 0o600))

	rates, fallback, err := LoadPricingFile(path, DefaultRates(), Rate{})
	require.NoError(t, err)
	assert.Equal(t, Rate{5, 20}, fallback)
	assert.Equal(t, Rate{2, 8}, rates["gpt-4o"], "file overrides built-in rates")
	assert.Equal(t, Rate{0.5, 0.5}, rates["in-house-model"])
	assert.Equal(t, DefaultRates()["claude-3-opus"], rates["claude-3-opus"], "untouched rates are kept")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("models:\n  x: {input_per_million: -1}\n"), 0o600))
	_, _, err = LoadPricingFile(bad, nil, Rate{})
	assert.Error(t, err)

	_, _, err = LoadPricingFile(filepath.Join(t.TempDir(), "missing.yaml"), nil, Rate{})
	assert.Error(t, err)
}
