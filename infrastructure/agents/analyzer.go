package agents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var _ ports.Agent = (*QuestionAnalyzer)(nil)

const analyzerSystem = "You are an experienced examiner preparing a marking scheme. " +
	"Extract questions faithfully from the marking guide. Do not invent questions, marks or concepts " +
	"that the guide does not support."

const sectionPromptText = `Below is one question from a marking guide{{if .Marks}}, worth {{.Marks}} marks{{end}}.
Record its number, text, type, maximum marks, key concepts with points, and rubric tiers.
Mark a concept mandatory only when the guide makes it essential for a good answer.

Question number: {{.Number}}
---
{{.Text}}
---`

const guidePromptText = `Below is a complete marking guide. Record every question in the order it appears,
with its number, text, type, maximum marks, key concepts with points, and rubric tiers.
Also record the guide title and the total marks it states, if any.

---
{{.}}
---`

var (
	sectionPrompt = template.Must(template.New("section").Parse(sectionPromptText))
	guidePrompt   = template.Must(template.New("guide").Parse(guidePromptText))
)

// AnalyzerConfig configures a QuestionAnalyzer.
type AnalyzerConfig struct {
	// MaxConcurrency bounds the per-section calls in flight.
	MaxConcurrency int `validate:"gte=0,lte=32"`

	// MaxTokens and Temperature override the provider's settings when set.
	MaxTokens   int `validate:"gte=0"`
	Temperature *float64
}

// QuestionAnalyzer turns marking guide text into analyzed questions with
// rubrics. When section hints are available each section is analyzed by its
// own call; otherwise the whole guide goes to the model at once.
type QuestionAnalyzer struct {
	provider ports.Provider
	config   AnalyzerConfig
	logger   zerolog.Logger
}

// NewQuestionAnalyzer creates an analyzer backed by provider.
func NewQuestionAnalyzer(provider ports.Provider, config AnalyzerConfig, logger zerolog.Logger) (*QuestionAnalyzer, error) {
	if provider == nil {
		return nil, fmt.Errorf("question analyzer: provider cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("question analyzer: %w", err)
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	return &QuestionAnalyzer{
		provider: provider,
		config:   config,
		logger:   logger.With().Str("agent", AnalyzerID).Logger(),
	}, nil
}

// ID implements ports.Agent.
func (a *QuestionAnalyzer) ID() string { return AnalyzerID }

// Process expects a domain.AnalyzeRequest and answers with a
// domain.AnalyzeResponse.
func (a *QuestionAnalyzer) Process(ctx context.Context, msg domain.AgentMessage) domain.AgentMessage {
	req, err := requestPayload[domain.AnalyzeRequest](msg)
	if err != nil {
		return msg.Fail(err)
	}
	if strings.TrimSpace(req.GuideText) == "" {
		return msg.Fail(domain.ErrEmptyDocument)
	}

	resp, err := a.analyze(ctx, req)
	if err != nil {
		return msg.Fail(err)
	}
	return msg.Reply(resp)
}

func (a *QuestionAnalyzer) analyze(ctx context.Context, req domain.AnalyzeRequest) (domain.AnalyzeResponse, error) {
	if len(req.Hints) == 0 {
		return a.analyzeWhole(ctx, req.GuideText)
	}

	title, total := GuideHeader(req.GuideText)
	questions := make([]domain.AnalyzedQuestion, len(req.Hints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.MaxConcurrency)
	for i, hint := range req.Hints {
		g.Go(func() error {
			q, err := a.analyzeSection(gctx, hint)
			if err != nil {
				return fmt.Errorf("section %s: %w", hint.Number, err)
			}
			questions[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AnalyzeResponse{}, err
	}

	assignIDs(questions)
	a.logger.Debug().Int("questions", len(questions)).Msg("analyzed guide by section")
	return domain.AnalyzeResponse{Title: title, TotalMarks: total, Questions: questions}, nil
}

func (a *QuestionAnalyzer) analyzeSection(ctx context.Context, hint domain.SectionHint) (domain.AnalyzedQuestion, error) {
	var buf bytes.Buffer
	if err := sectionPrompt.Execute(&buf, hint); err != nil {
		return domain.AnalyzedQuestion{}, fmt.Errorf("render section prompt: %w", err)
	}

	var in questionInput
	err := callTool(ports.WithOperation(ctx, OpAnalyzeQuestion), a.provider, a.request(buf.String()), QuestionRubricTool, &in)
	if err != nil {
		return domain.AnalyzedQuestion{}, err
	}

	q := in.toQuestion()
	if q.Number == "" {
		q.Number = hint.Number
	}
	return q, nil
}

func (a *QuestionAnalyzer) analyzeWhole(ctx context.Context, text string) (domain.AnalyzeResponse, error) {
	var buf bytes.Buffer
	if err := guidePrompt.Execute(&buf, text); err != nil {
		return domain.AnalyzeResponse{}, fmt.Errorf("render guide prompt: %w", err)
	}

	var in guideInput
	if err := callTool(ports.WithOperation(ctx, OpAnalyzeGuide), a.provider, a.request(buf.String()), GuideQuestionsTool, &in); err != nil {
		return domain.AnalyzeResponse{}, err
	}

	questions := make([]domain.AnalyzedQuestion, len(in.Questions))
	for i, q := range in.Questions {
		questions[i] = q.toQuestion()
		if questions[i].Number == "" {
			questions[i].Number = fmt.Sprint(i + 1)
		}
	}
	assignIDs(questions)

	title, total := in.Title, in.TotalMarks
	if title == "" || total == 0 {
		hTitle, hTotal := GuideHeader(text)
		if title == "" {
			title = hTitle
		}
		if total == 0 {
			total = hTotal
		}
	}
	return domain.AnalyzeResponse{Title: title, TotalMarks: total, Questions: questions}, nil
}

func (a *QuestionAnalyzer) request(prompt string) ports.GenerationRequest {
	return ports.GenerationRequest{
		System:      analyzerSystem,
		Messages:    []ports.Message{ports.UserMessage(prompt)},
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
	}
}

func (in questionInput) toQuestion() domain.AnalyzedQuestion {
	q := domain.AnalyzedQuestion{
		Number:      strings.TrimSpace(in.Number),
		Text:        strings.TrimSpace(in.Text),
		Type:        domain.QuestionType(in.Type),
		MaxMarks:    in.MaxMarks,
		Rubric:      in.Rubric,
		ModelAnswer: in.ModelAnswer,
	}
	if !q.Type.Valid() {
		q.Type = domain.QuestionShortAnswer
	}
	for _, c := range in.KeyConcepts {
		q.KeyConcepts = append(q.KeyConcepts, domain.KeyConcept{Text: c.Text, Points: c.Points, Mandatory: c.Mandatory})
	}
	// Marks can only be earned through concepts.
	if len(q.KeyConcepts) == 0 {
		q.KeyConcepts = []domain.KeyConcept{{Text: wholeAnswerConcept, Points: q.MaxMarks, Mandatory: true}}
	}
	return q
}

const wholeAnswerConcept = "Correct and complete answer"

// assignIDs gives questions stable ids derived from their position, so the
// same guide always yields the same ids.
func assignIDs(questions []domain.AnalyzedQuestion) {
	for i := range questions {
		questions[i].ID = fmt.Sprintf("q%d", i+1)
	}
}
