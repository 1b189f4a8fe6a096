package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Metric names recorded by Ledger.
const (
	MetricCost   = "usage_cost_total"
	MetricTokens = "usage_tokens_total"
)

// Options configures a Ledger.
type Options struct {
	Metrics ports.MetricsCollector
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Ledger prices and stores usage records.
type Ledger struct {
	store   Store
	pricing *PricingTable
	metrics ports.MetricsCollector
	logger  zerolog.Logger
	now     func() time.Time
}

var _ ports.UsageLedger = (*Ledger)(nil)

// New creates a Ledger. A nil pricing table uses DefaultRates with a zero
// fallback.
func New(store Store, pricing *PricingTable, opts Options) *Ledger {
	if pricing == nil {
		pricing = NewPricingTable(DefaultRates(), Rate{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:   store,
		pricing: pricing,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "ledger").Logger(),
		now:     opts.Now,
	}
}

// Record prices rec and appends it. Records for cache hits carry no tokens
// and cost nothing.
func (l *Ledger) Record(ctx context.Context, rec domain.UsageRecord) error {
	if rec.Cached {
		rec.InputTokens, rec.OutputTokens = 0, 0
		rec.Cost = 0
	} else {
		rate, known := l.pricing.RateFor(rec.Model)
		if !known && rec.Model != "" {
			l.logger.Debug().Str("model", rec.Model).Msg("no rate for model, using default")
		}
		rec.Cost = rate.Cost(rec.InputTokens, rec.OutputTokens)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.now().UTC()
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	if l.metrics != nil {
		labels := map[string]string{"model": rec.Model, "operation": rec.Operation}
		l.metrics.RecordCounter(MetricCost, rec.Cost, labels)
		l.metrics.RecordCounter(MetricTokens, float64(rec.InputTokens+rec.OutputTokens), labels)
	}
	return nil
}

// Summary aggregates the records for contextID, or all records when it is
// empty.
func (l *Ledger) Summary(ctx context.Context, contextID string) (domain.UsageTotals, error) {
	records, err := l.store.List(ctx, contextID)
	if err != nil {
		return domain.UsageTotals{}, err
	}
	return domain.Summarize(contextID, records), nil
}
