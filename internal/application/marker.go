// Package application wires the marking agents, the content cache and the
// usage ledger into the Marker, the programmatic surface of the system.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/agents"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/cache"
	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/events"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// OrchestratorID is the sender id of every message the Marker sends.
const OrchestratorID = "orchestrator"

// Ledger operations recorded for cache hits.
const (
	OpUploadGuide    = "upload_guide"
	OpMarkSubmission = "mark_submission"
)

// idNamespace seeds the name-based UUIDs of guides and reports so the same
// content always maps to the same id.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:answer-sheet-marker"))

// GuideID returns the id of the guide whose content hash is hash.
func GuideID(hash string) string {
	return uuid.NewSHA1(idNamespace, []byte("guide:"+hash)).String()
}

// ReportID returns the id of the report whose cache key is hash.
func ReportID(hash string) string {
	return uuid.NewSHA1(idNamespace, []byte("report:"+hash)).String()
}

// MarkerDeps are the collaborators a Marker is built from.
type MarkerDeps struct {
	// Provider serves answer evaluation and feedback.
	Provider ports.Provider
	// AnalysisProvider serves question analysis. Defaults to Provider.
	AnalysisProvider ports.Provider

	Cache     *cache.ContentCache
	Ledger    ports.UsageLedger
	Extractor ports.DocumentExtractor

	// Publisher and Observer are optional.
	Publisher ports.EventPublisher
	Observer  ports.MarkingObserver

	Logger zerolog.Logger
	// Now stamps reports. Defaults to time.Now.
	Now func() time.Time
}

// MarkerOptions is the grading policy a Marker applies.
type MarkerOptions struct {
	Marking MarkingConfig
	// MaxConcurrency bounds per-question fan-out inside one submission.
	MaxConcurrency int
}

// Marker runs guide analysis and submission marking. All model work goes
// through the injected providers; results are cached by content so that
// repeating an operation with identical input costs nothing.
type Marker struct {
	analyzer  ports.Agent
	evaluator ports.Agent
	scoring   ports.Agent
	feedback  ports.Agent
	qa        ports.Agent

	analysisModel   string
	evaluationModel string

	cache          *cache.ContentCache
	ledger         ports.UsageLedger
	extractor      ports.DocumentExtractor
	publisher      ports.EventPublisher
	observer       ports.MarkingObserver
	maxConcurrency int
	fallback       string

	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewMarker builds the five agents and returns a ready Marker.
func NewMarker(deps MarkerDeps, opts MarkerOptions) (*Marker, error) {
	if deps.Provider == nil {
		return nil, ports.NewConfigError("provider", errors.New("provider is required"))
	}
	if deps.Cache == nil || deps.Ledger == nil || deps.Extractor == nil {
		return nil, errors.New("marker requires a cache, a ledger and an extractor")
	}
	if deps.AnalysisProvider == nil {
		deps.AnalysisProvider = deps.Provider
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = agents.DefaultMaxConcurrency
	}
	if opts.Marking.FallbackFeedback == "" {
		opts.Marking.FallbackFeedback = agents.DefaultFallbackFeedback
	}

	scale, err := opts.Marking.gradeScale()
	if err != nil {
		return nil, ports.NewConfigError("marking.grade_scale", err)
	}

	logger := deps.Logger
	analyzer, err := agents.NewQuestionAnalyzer(deps.AnalysisProvider, agents.AnalyzerConfig{
		MaxConcurrency: min(opts.MaxConcurrency, 32),
	}, logger)
	if err != nil {
		return nil, err
	}
	evaluator, err := agents.NewAnswerEvaluator(deps.Provider, agents.EvaluatorConfig{
		ConfidenceThreshold: opts.Marking.ConfidenceThreshold,
		Strictness:          agents.Strictness(opts.Marking.Strictness),
	}, logger)
	if err != nil {
		return nil, err
	}
	scoring, err := agents.NewScoringAgent(scale, opts.Marking.PassPercentage)
	if err != nil {
		return nil, err
	}
	feedback, err := agents.NewFeedbackGenerator(deps.Provider, agents.FeedbackConfig{
		Fallback: opts.Marking.FallbackFeedback,
	}, logger)
	if err != nil {
		return nil, err
	}
	qa, err := agents.NewQAAgent(agents.QAConfig{
		ConfidenceThreshold: opts.Marking.ConfidenceThreshold,
		EvidenceSimilarity:  opts.Marking.EvidenceSimilarity,
	})
	if err != nil {
		return nil, err
	}

	return &Marker{
		analyzer:        analyzer,
		evaluator:       evaluator,
		scoring:         scoring,
		feedback:        feedback,
		qa:              qa,
		analysisModel:   deps.AnalysisProvider.Model(),
		evaluationModel: deps.Provider.Model(),
		cache:           deps.Cache,
		ledger:          deps.Ledger,
		extractor:       deps.Extractor,
		publisher:       deps.Publisher,
		observer:        deps.Observer,
		fallback:        opts.Marking.FallbackFeedback,
		maxConcurrency:  opts.MaxConcurrency,
		logger:          logger.With().Str("component", "marker").Logger(),
		tracer:          otel.Tracer("answer-sheet-marker"),
		now:             deps.Now,
	}, nil
}

func (mc MarkingConfig) gradeScale() (domain.GradeScale, error) {
	return Config{Marking: mc}.GradeScale()
}

// UploadGuide analyzes a marking guide, or returns the cached analysis of
// identical bytes. The guide id is derived from the content.
func (m *Marker) UploadGuide(ctx context.Context, data []byte) (string, *domain.MarkingGuide, bool, error) {
	ctx, span := m.tracer.Start(ctx, "Marker.UploadGuide")
	defer span.End()

	if len(data) == 0 {
		return "", nil, false, endSpan(span, domain.ErrEmptyDocument)
	}

	hash := cache.GuideKey(data)
	id := GuideID(hash)
	span.SetAttributes(attribute.String("marking.guide_id", id))

	var guide domain.MarkingGuide
	cached, err := m.resolve(ctx, ports.CollectionGuides, hash, func(ctx context.Context) (ports.CacheEntry, error) {
		g, err := m.analyzeGuide(ctx, id, hash, data)
		if err != nil {
			return ports.CacheEntry{}, err
		}
		return encodeEntry(id, g)
	}, &guide)
	if err != nil {
		return "", nil, false, endSpan(span, err)
	}

	if cached {
		m.recordCacheHit(ctx, OpUploadGuide, id, domain.ContextGuide, m.analysisModel)
	}
	span.SetAttributes(attribute.Bool("marking.cached", cached))
	m.logger.Info().Str("guide_id", id).Int("questions", len(guide.Questions)).
		Bool("cached", cached).Msg("guide ready")

	m.publish(ctx, events.SubjectGuideAnalyzed, events.GuideAnalyzed{
		GuideID:    id,
		Title:      guide.Title,
		Questions:  len(guide.Questions),
		TotalMarks: guide.TotalMarks,
		Cached:     cached,
	})
	return id, &guide, cached, nil
}

func (m *Marker) analyzeGuide(ctx context.Context, id, hash string, data []byte) (domain.MarkingGuide, error) {
	ctx = ports.WithUsageScope(ctx, ports.UsageScope{ContextID: id, Kind: domain.ContextGuide})

	doc, err := m.extractor.Extract(ctx, data)
	if err != nil {
		return domain.MarkingGuide{}, fmt.Errorf("failed to read guide: %w", err)
	}
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return domain.MarkingGuide{}, domain.ErrEmptyDocument
	}

	reply := m.send(ctx, m.analyzer, domain.AnalyzeRequest{
		GuideText: text,
		Hints:     agents.FindSectionHints(text),
	})
	resp, err := domain.PayloadAs[domain.AnalyzeResponse](reply)
	if err != nil {
		return domain.MarkingGuide{}, fmt.Errorf("failed to analyze guide: %w", err)
	}

	guide := domain.MarkingGuide{
		ID:          id,
		ContentHash: hash,
		Title:       resp.Title,
		TotalMarks:  resp.TotalMarks,
		Questions:   resp.Questions,
	}
	if guide.TotalMarks == 0 {
		guide.TotalMarks = domain.RoundMarks(guide.QuestionMarksSum())
	}
	warnings, err := guide.Check()
	if err != nil {
		return domain.MarkingGuide{}, err
	}
	guide.Warnings = warnings
	for _, w := range warnings {
		m.logger.Warn().Str("guide_id", id).Msg(w)
	}
	return guide, nil
}

// Guide returns a previously uploaded guide.
func (m *Marker) Guide(ctx context.Context, guideID string) (*domain.MarkingGuide, error) {
	entry, ok := m.cache.Get(ctx, ports.CollectionGuides, guideID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGuideNotFound, guideID)
	}
	var guide domain.MarkingGuide
	if err := json.Unmarshal(entry.Value, &guide); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGuideNotFound, guideID)
	}
	return &guide, nil
}

// MarkSubmission marks one student's answer sheet against an uploaded
// guide. Identical (guide, student, file) input returns the cached report.
// Problems with individual questions never fail the call; they show up as
// question failures and review reasons in the report.
func (m *Marker) MarkSubmission(
	ctx context.Context,
	guideID, studentID string,
	data []byte,
) (string, *domain.EvaluationReport, bool, error) {
	ctx, span := m.tracer.Start(ctx, "Marker.MarkSubmission")
	defer span.End()

	verr := domain.NewValidationError("submission")
	if guideID == "" {
		verr.AddError("guide id is required")
	}
	if strings.TrimSpace(studentID) == "" {
		verr.AddError("student id is required")
	}
	if len(data) == 0 {
		verr.AddError("answer sheet is empty")
	}
	if verr.HasErrors() {
		return "", nil, false, endSpan(span, verr)
	}

	guide, err := m.Guide(ctx, guideID)
	if err != nil {
		return "", nil, false, endSpan(span, err)
	}

	hash := cache.ReportKey(guideID, studentID, data)
	id := ReportID(hash)
	span.SetAttributes(
		attribute.String("marking.report_id", id),
		attribute.String("marking.guide_id", guideID),
	)

	var report domain.EvaluationReport
	cached, err := m.resolve(ctx, ports.CollectionReports, hash, func(ctx context.Context) (ports.CacheEntry, error) {
		sub := newSubmission(m, *guide, id, studentID, hash)
		r, err := sub.run(ctx, data)
		if err != nil {
			return ports.CacheEntry{}, err
		}
		return encodeEntry(id, r)
	}, &report)
	if err != nil {
		return "", nil, false, endSpan(span, err)
	}

	if cached {
		m.recordCacheHit(ctx, OpMarkSubmission, id, domain.ContextReport, m.evaluationModel)
	}
	span.SetAttributes(attribute.Bool("marking.cached", cached))
	m.logger.Info().Str("report_id", id).Str("student_id", studentID).
		Float64("total", report.Scoring.TotalMarks).Float64("max", report.Scoring.MaxMarks).
		Bool("review", report.RequiresHumanReview()).Bool("cached", cached).Msg("report ready")

	m.publish(ctx, events.SubjectReportReady, events.ReportReady{
		ReportID:            id,
		GuideID:             guideID,
		StudentID:           studentID,
		TotalMarks:          report.Scoring.TotalMarks,
		MaxMarks:            report.Scoring.MaxMarks,
		Percentage:          report.Scoring.Percentage,
		Grade:               report.Scoring.Grade,
		RequiresHumanReview: report.RequiresHumanReview(),
		Cached:              cached,
	})
	return id, &report, cached, nil
}

// UsageSummary aggregates the ledger for a guide or report id, or for
// everything when contextID is empty.
func (m *Marker) UsageSummary(ctx context.Context, contextID string) (domain.UsageTotals, error) {
	return m.ledger.Summary(ctx, contextID)
}

// resolve runs produce through the content cache and decodes the entry
// into out. A cached value that no longer decodes is produced again and
// overwritten.
func (m *Marker) resolve(ctx context.Context, collection, hash string, produce cache.Producer, out any) (bool, error) {
	entry, cached, err := m.cache.Resolve(ctx, collection, hash, produce)
	if err != nil {
		return false, err
	}
	decodeErr := json.Unmarshal(entry.Value, out)
	if decodeErr == nil {
		return cached, nil
	}
	if !cached {
		return false, fmt.Errorf("failed to decode %s entry: %w", collection, decodeErr)
	}

	m.logger.Warn().Str("collection", collection).Str("id", entry.ID).
		Msg("cached value unreadable, producing again")
	entry, err = produce(ctx)
	if err != nil {
		return false, err
	}
	entry.Collection, entry.Hash = collection, hash
	if err := m.cache.Store(ctx, entry); err != nil {
		m.logger.Warn().Err(err).Str("collection", collection).Msg("failed to replace cache entry")
	}
	return false, json.Unmarshal(entry.Value, out)
}

// recordCacheHit writes a zero-token ledger line so the summary shows the
// work was served from cache.
func (m *Marker) recordCacheHit(ctx context.Context, op, contextID string, kind domain.ContextKind, model string) {
	err := m.ledger.Record(ctx, domain.UsageRecord{
		Operation:   op,
		ContextID:   contextID,
		ContextKind: kind,
		Model:       model,
		Cached:      true,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("context_id", contextID).Msg("failed to record cache hit")
	}
}

func (m *Marker) send(ctx context.Context, agent ports.Agent, payload any) domain.AgentMessage {
	return agent.Process(ctx, domain.NewRequest(OrchestratorID, agent.ID(), uuid.NewString(), payload))
}

// publish announces an event. Delivery problems are logged only.
func (m *Marker) publish(ctx context.Context, subject string, payload any) {
	if err := m.publisher.Publish(ctx, subject, payload); err != nil {
		m.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

func encodeEntry(id string, v any) (ports.CacheEntry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ports.CacheEntry{}, fmt.Errorf("failed to encode %s: %w", id, err)
	}
	return ports.CacheEntry{ID: id, Value: data}, nil
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type nopObserver struct{}

func (nopObserver) SubmissionStarted(ctx context.Context, _ ports.SubmissionInfo) context.Context {
	return ctx
}
func (nopObserver) StageCompleted(context.Context, domain.Stage, time.Duration) {}
func (nopObserver) QuestionFailed(context.Context, domain.QuestionFailure)      {}
func (nopObserver) SubmissionFinished(context.Context, *domain.EvaluationReport, time.Duration, error) {
}
