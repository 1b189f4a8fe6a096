package domain

import "time"

// ContextKind says what a usage record was spent on.
type ContextKind string

// Usage context kinds.
const (
	ContextGuide  ContextKind = "guide"
	ContextReport ContextKind = "report"
)

// UsageRecord is one append-only line of the cost ledger.
type UsageRecord struct {
	Operation    string      `json:"operation"`
	ContextID    string      `json:"context_id"`
	ContextKind  ContextKind `json:"context_kind"`
	Model        string      `json:"model"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	Cost         float64     `json:"cost"`
	Cached       bool        `json:"cached,omitempty"`
	RecordedAt   time.Time   `json:"recorded_at"`
}

// UsageTotals aggregates usage records.
type UsageTotals struct {
	ContextID    string             `json:"context_id,omitempty"`
	Calls        int                `json:"calls"`
	CachedCalls  int                `json:"cached_calls"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	Cost         float64            `json:"cost"`
	ByModel      map[string]float64 `json:"by_model,omitempty"`
	ByOperation  map[string]float64 `json:"by_operation,omitempty"`
}

// Add folds a record into the totals.
func (t *UsageTotals) Add(r UsageRecord) {
	if r.Cached {
		t.CachedCalls++
	} else {
		t.Calls++
	}
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.Cost += r.Cost

	if t.ByModel == nil {
		t.ByModel = make(map[string]float64)
	}
	if t.ByOperation == nil {
		t.ByOperation = make(map[string]float64)
	}
	if r.Model != "" {
		t.ByModel[r.Model] += r.Cost
	}
	if r.Operation != "" {
		t.ByOperation[r.Operation] += r.Cost
	}
}

// Summarize aggregates records, keeping only those for contextID unless it
// is empty.
func Summarize(contextID string, records []UsageRecord) UsageTotals {
	totals := UsageTotals{ContextID: contextID}
	for _, r := range records {
		if contextID != "" && r.ContextID != contextID {
			continue
		}
		totals.Add(r)
	}
	return totals
}
