package ports

import (
	"context"
	"strings"
	"time"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
)

// Cache collections.
const (
	CollectionGuides  = "guides"
	CollectionReports = "reports"
)

// CacheEntry is one persisted, content-addressed artifact. Value holds the
// serialized guide or report.
type CacheEntry struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	Value      []byte    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

// IndexEntry is the metadata kept per cached artifact, used to rebuild the
// hash lookup at startup without reading every value.
type IndexEntry struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheStore persists cache entries. Implementations could use the local
// filesystem, Redis, or memory.
type CacheStore interface {
	// Get returns the entry stored under collection/id. It returns an error
	// wrapping ErrCacheMiss when nothing is stored and ErrCacheCorrupted when
	// the stored bytes cannot be decoded.
	Get(ctx context.Context, collection, id string) (CacheEntry, error)

	// Put stores entry, replacing any previous value for the same id.
	Put(ctx context.Context, entry CacheEntry) error

	// Index lists the metadata of every entry in a collection.
	Index(ctx context.Context, collection string) ([]IndexEntry, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like token counts and scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// Document is the text extracted from an uploaded file.
type Document struct {
	Pages   []string
	Scanned bool
}

// Text joins all pages with blank lines.
func (d Document) Text() string {
	return strings.Join(d.Pages, "\n\n")
}

// DocumentExtractor turns raw file bytes into page text. Extraction must be
// deterministic for identical input.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (Document, error)
}

// UsageLedger is the append-only cost ledger.
type UsageLedger interface {
	// Record prices and appends one usage record.
	Record(ctx context.Context, rec domain.UsageRecord) error

	// Summary aggregates records for contextID, or all records when
	// contextID is empty.
	Summary(ctx context.Context, contextID string) (domain.UsageTotals, error)
}

// UsageScope says which guide or report a provider call is spent on.
type UsageScope struct {
	Operation string
	ContextID string
	Kind      domain.ContextKind
}

type usageScopeKey struct{}

// WithUsageScope attaches scope to ctx so provider middleware can attribute
// the call in the ledger.
func WithUsageScope(ctx context.Context, scope UsageScope) context.Context {
	return context.WithValue(ctx, usageScopeKey{}, scope)
}

// WithOperation returns ctx with the scope's operation replaced.
func WithOperation(ctx context.Context, operation string) context.Context {
	scope, _ := UsageScopeFrom(ctx)
	scope.Operation = operation
	return WithUsageScope(ctx, scope)
}

// UsageScopeFrom returns the scope attached to ctx.
func UsageScopeFrom(ctx context.Context) (UsageScope, bool) {
	scope, ok := ctx.Value(usageScopeKey{}).(UsageScope)
	return scope, ok
}

// EventPublisher announces marking milestones to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Agent is one specialised worker of the marking pipeline. Process never
// returns a Go error; failures come back as an error-kind message.
type Agent interface {
	ID() string
	Process(ctx context.Context, msg domain.AgentMessage) domain.AgentMessage
}

// SubmissionInfo identifies a submission being marked.
type SubmissionInfo struct {
	ReportID  string
	GuideID   string
	StudentID string
}

// MarkingObserver provides observability hooks for the marking state machine.
type MarkingObserver interface {
	// SubmissionStarted is called before any stage runs. The returned
	// context is used for the rest of the submission.
	SubmissionStarted(ctx context.Context, sub SubmissionInfo) context.Context

	// StageCompleted is called each time the submission advances.
	StageCompleted(ctx context.Context, stage domain.Stage, elapsed time.Duration)

	// QuestionFailed is called when a question is recorded as failed.
	QuestionFailed(ctx context.Context, failure domain.QuestionFailure)

	// SubmissionFinished is called once with the final report or error.
	SubmissionFinished(ctx context.Context, report *domain.EvaluationReport, elapsed time.Duration, err error)
}
