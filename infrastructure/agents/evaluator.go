package agents

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var _ ports.Agent = (*AnswerEvaluator)(nil)

// Strictness decides what happens when model output breaks the score
// bounds. Both settings clamp; StrictnessFlag also sends the answer to a
// human.
type Strictness string

// Strictness settings.
const (
	StrictnessClamp Strictness = "clamp"
	StrictnessFlag  Strictness = "flag"
)

// DefaultConfidenceThreshold is the confidence below which an evaluation is
// sent for review.
const DefaultConfidenceThreshold = 0.7

const evaluatorSystem = "You are a fair and consistent examiner. Judge only what the student wrote. " +
	"Award points for a key concept only when the answer demonstrates it, and quote the answer as evidence."

const evaluationPromptText = `Question {{.Question.Number}} ({{marks .Question.MaxMarks}} marks, {{.Question.Type}}):
{{.Question.Text}}

Key concepts:
{{- range $i, $c := .Question.KeyConcepts}}
{{inc $i}}. {{$c.Text}} [{{marks $c.Points}} points{{if $c.Mandatory}}, mandatory{{end}}]
{{- end}}
{{if .Question.Rubric.Excellent}}
Rubric:
- excellent: {{.Question.Rubric.Excellent}}
- good: {{.Question.Rubric.Good}}
- satisfactory: {{.Question.Rubric.Satisfactory}}
- poor: {{.Question.Rubric.Poor}}
{{end}}
{{- if .Question.ModelAnswer}}
Model answer:
{{.Question.ModelAnswer}}
{{end}}
Student answer:
---
{{.Answer}}
---

For every key concept above, say whether the answer contains it, how accurately, and the points earned
(never more than the concept's points). Quote the exact words from the student answer as evidence;
leave evidence empty when the concept is absent. Then give the overall quality, your confidence
between 0 and 1, and the total marks awarded (never more than {{marks .Question.MaxMarks}}).`

var evaluationPrompt = template.Must(template.New("evaluation").Funcs(template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"marks": func(v float64) string { return fmt.Sprintf("%g", domain.RoundMarks(v)) },
}).Parse(evaluationPromptText))

// EvaluatorConfig configures an AnswerEvaluator.
type EvaluatorConfig struct {
	ConfidenceThreshold float64    `validate:"gte=0,lte=1"`
	Strictness          Strictness `validate:"omitempty,oneof=clamp flag"`

	// MaxTokens and Temperature override the provider's settings when set.
	MaxTokens   int `validate:"gte=0"`
	Temperature *float64
}

// AnswerEvaluator judges one answer against a question's key concepts and
// enforces the score bounds on whatever the model returns.
type AnswerEvaluator struct {
	provider ports.Provider
	config   EvaluatorConfig
	logger   zerolog.Logger
}

// NewAnswerEvaluator creates an evaluator backed by provider.
func NewAnswerEvaluator(provider ports.Provider, config EvaluatorConfig, logger zerolog.Logger) (*AnswerEvaluator, error) {
	if provider == nil {
		return nil, fmt.Errorf("answer evaluator: provider cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("answer evaluator: %w", err)
	}
	if config.Strictness == "" {
		config.Strictness = StrictnessClamp
	}
	return &AnswerEvaluator{
		provider: provider,
		config:   config,
		logger:   logger.With().Str("agent", EvaluatorID).Logger(),
	}, nil
}

// ID implements ports.Agent.
func (e *AnswerEvaluator) ID() string { return EvaluatorID }

// Process expects a domain.EvaluateRequest and answers with a
// domain.EvaluateResponse.
func (e *AnswerEvaluator) Process(ctx context.Context, msg domain.AgentMessage) domain.AgentMessage {
	req, err := requestPayload[domain.EvaluateRequest](msg)
	if err != nil {
		return msg.Fail(err)
	}

	if strings.TrimSpace(req.Answer) == "" {
		return msg.Reply(domain.EvaluateResponse{Evaluation: blankEvaluation(req.Question)})
	}

	var buf bytes.Buffer
	if err := evaluationPrompt.Execute(&buf, req); err != nil {
		return msg.Fail(fmt.Errorf("render evaluation prompt: %w", err))
	}

	var in evaluationInput
	genReq := ports.GenerationRequest{
		System:      evaluatorSystem,
		Messages:    []ports.Message{ports.UserMessage(buf.String())},
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}
	if err := callTool(ports.WithOperation(ctx, OpEvaluateAnswer), e.provider, genReq, AnswerEvaluationTool, &in); err != nil {
		return msg.Fail(err)
	}

	eval := e.finalize(req.Question, in)
	e.logger.Debug().
		Str("question_id", eval.QuestionID).
		Float64("marks", eval.MarksAwarded).
		Bool("review", eval.RequiresHumanReview).
		Msg("evaluated answer")
	return msg.Reply(domain.EvaluateResponse{Evaluation: eval})
}

// blankEvaluation is the zero-mark result for an answer with no text.
func blankEvaluation(q domain.AnalyzedQuestion) domain.AnswerEvaluation {
	eval := domain.AnswerEvaluation{
		QuestionID:     q.ID,
		OverallQuality: domain.TierNone,
		Confidence:     1,
		Weaknesses:     []string{"No answer was given."},
	}
	for _, c := range q.KeyConcepts {
		eval.Concepts = append(eval.Concepts, domain.ConceptResult{
			Concept:   c.Text,
			Mandatory: c.Mandatory,
			Accuracy:  domain.TierNone,
		})
	}
	return eval
}

// finalize maps the model verdicts onto the question's concepts and enforces
// 0 <= marks awarded <= points earned <= max marks.
func (e *AnswerEvaluator) finalize(q domain.AnalyzedQuestion, in evaluationInput) domain.AnswerEvaluation {
	eval := domain.AnswerEvaluation{
		QuestionID:     q.ID,
		OverallQuality: domain.QualityTier(in.OverallQuality),
		Confidence:     in.Confidence,
		Strengths:      in.Strengths,
		Weaknesses:     in.Weaknesses,
	}
	if !eval.OverallQuality.Valid() {
		eval.OverallQuality = domain.TierNone
	}

	verdicts := make(map[string]conceptVerdict, len(in.Concepts))
	for _, v := range in.Concepts {
		verdicts[foldKey(v.Concept)] = v
	}

	var adjustments []string
	for _, c := range q.KeyConcepts {
		result := domain.ConceptResult{Concept: c.Text, Mandatory: c.Mandatory, Accuracy: domain.TierNone}
		v, ok := verdicts[foldKey(c.Text)]
		if !ok {
			adjustments = append(adjustments, fmt.Sprintf("concept %q was not assessed", c.Text))
			eval.Concepts = append(eval.Concepts, result)
			continue
		}

		result.Present = v.Present
		result.Evidence = strings.TrimSpace(v.Evidence)
		if tier := domain.QualityTier(v.Accuracy); tier.Valid() {
			result.Accuracy = tier
		}
		result.PointsEarned = v.PointsEarned
		switch {
		case !v.Present && v.PointsEarned > 0:
			adjustments = append(adjustments, fmt.Sprintf("points removed for absent concept %q", c.Text))
			result.PointsEarned = 0
		case v.PointsEarned > c.Points:
			adjustments = append(adjustments, fmt.Sprintf("concept %q capped at %g points", c.Text, c.Points))
			result.PointsEarned = c.Points
		}
		eval.Concepts = append(eval.Concepts, result)
	}

	earned := eval.PointsEarned()
	if earned > q.MaxMarks {
		adjustments = append(adjustments, fmt.Sprintf("concept points %g scaled to max marks %g", earned, q.MaxMarks))
		scale := 0.0
		if earned > 0 {
			scale = q.MaxMarks / earned
		}
		for i := range eval.Concepts {
			eval.Concepts[i].PointsEarned = math.Floor(eval.Concepts[i].PointsEarned*scale*100) / 100
		}
		earned = eval.PointsEarned()
	}

	eval.MarksAwarded = in.MarksAwarded
	if eval.MarksAwarded > earned {
		adjustments = append(adjustments, fmt.Sprintf("awarded %g reduced to earned concept points %g", in.MarksAwarded, earned))
		eval.MarksAwarded = earned
	}
	eval.MarksAwarded = math.Min(domain.RoundMarks(eval.MarksAwarded), earned)

	for _, note := range adjustments {
		if e.config.Strictness == StrictnessFlag {
			eval.Flag(note)
		} else {
			eval.ReviewReasons = append(eval.ReviewReasons, note)
		}
	}

	if eval.Confidence < e.config.ConfidenceThreshold {
		eval.Flag(fmt.Sprintf("confidence %.2f below threshold %.2f", eval.Confidence, e.config.ConfidenceThreshold))
	}
	if missing := eval.MissingMandatory(); eval.OverallQuality.High() && len(missing) > 0 {
		eval.Flag(fmt.Sprintf("rated %s but missing mandatory concept: %s", eval.OverallQuality, strings.Join(missing, ", ")))
	}
	return eval
}
