package agents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var _ ports.Agent = (*FeedbackGenerator)(nil)

// DefaultFallbackFeedback is returned when feedback cannot be generated.
const DefaultFallbackFeedback = "Detailed feedback is not available for this answer. Please review the marks awarded per concept."

const feedbackSystem = "You are a supportive teacher writing feedback for a student. " +
	"Be specific, encouraging and brief. Address the student directly. Do not restate the marks."

const feedbackPromptText = `Question: {{.Question.Text}}

Student answer:
---
{{.Answer}}
---

The answer earned {{printf "%g" .Evaluation.MarksAwarded}} of {{printf "%g" .Question.MaxMarks}} marks.
{{- if .Evaluation.Strengths}}
Strengths: {{join .Evaluation.Strengths "; "}}
{{- end}}
{{- with missing .Evaluation}}
Missing or weak concepts: {{join . "; "}}
{{- end}}

Write two to four sentences of feedback: what was done well and the most useful thing to improve.`

var feedbackPrompt = template.Must(template.New("feedback").Funcs(template.FuncMap{
	"join": strings.Join,
	"missing": func(e domain.AnswerEvaluation) []string {
		var out []string
		for _, c := range e.Concepts {
			if !c.Present || c.Accuracy == domain.TierPoor {
				out = append(out, c.Concept)
			}
		}
		return out
	},
}).Parse(feedbackPromptText))

// FeedbackConfig configures a FeedbackGenerator.
type FeedbackConfig struct {
	Fallback string

	// MaxTokens and Temperature override the provider's settings when set.
	MaxTokens   int `validate:"gte=0"`
	Temperature *float64
}

// FeedbackGenerator writes student-facing feedback for one evaluated answer.
// It never fails: any problem yields the fallback text marked as degraded.
type FeedbackGenerator struct {
	provider ports.Provider
	config   FeedbackConfig
	logger   zerolog.Logger
}

// NewFeedbackGenerator creates a feedback generator backed by provider.
func NewFeedbackGenerator(provider ports.Provider, config FeedbackConfig, logger zerolog.Logger) (*FeedbackGenerator, error) {
	if provider == nil {
		return nil, fmt.Errorf("feedback generator: provider cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("feedback generator: %w", err)
	}
	if config.Fallback == "" {
		config.Fallback = DefaultFallbackFeedback
	}
	return &FeedbackGenerator{
		provider: provider,
		config:   config,
		logger:   logger.With().Str("agent", FeedbackID).Logger(),
	}, nil
}

// ID implements ports.Agent.
func (f *FeedbackGenerator) ID() string { return FeedbackID }

// Process expects a domain.FeedbackRequest and answers with a
// domain.FeedbackResponse.
func (f *FeedbackGenerator) Process(ctx context.Context, msg domain.AgentMessage) domain.AgentMessage {
	req, err := requestPayload[domain.FeedbackRequest](msg)
	if err != nil {
		return msg.Fail(err)
	}

	text, err := f.generate(ctx, req)
	if err != nil {
		f.logger.Warn().Err(err).Str("question_id", req.Question.ID).Msg("feedback degraded to fallback")
		return msg.Reply(domain.FeedbackResponse{Feedback: f.config.Fallback, Degraded: true})
	}
	return msg.Reply(domain.FeedbackResponse{Feedback: text})
}

func (f *FeedbackGenerator) generate(ctx context.Context, req domain.FeedbackRequest) (string, error) {
	var buf bytes.Buffer
	if err := feedbackPrompt.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render feedback prompt: %w", err)
	}

	resp, err := f.provider.Generate(ports.WithOperation(ctx, OpFeedback), ports.GenerationRequest{
		System:      feedbackSystem,
		Messages:    []ports.Message{ports.UserMessage(buf.String())},
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
	})
	if err != nil {
		return "", err
	}
	if resp.StopReason == ports.StopReasonError {
		return "", ports.ErrInvalidResponse
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty feedback", ports.ErrInvalidResponse)
	}
	return text, nil
}
