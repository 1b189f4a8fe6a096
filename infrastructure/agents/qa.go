package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var _ ports.Agent = (*QAAgent)(nil)

// DefaultEvidenceSimilarity is the minimum trace similarity for evidence to
// count as quoted from the answer.
const DefaultEvidenceSimilarity = 0.8

// QAConfig configures a QAAgent.
type QAConfig struct {
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`
	// EvidenceSimilarity of zero disables the evidence check.
	EvidenceSimilarity float64 `validate:"gte=0,lte=1"`
}

// QAAgent reviews finished results for consistency problems. It makes no
// model calls.
type QAAgent struct {
	config QAConfig
}

// NewQAAgent creates a QA agent.
func NewQAAgent(config QAConfig) (*QAAgent, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("qa agent: %w", err)
	}
	return &QAAgent{config: config}, nil
}

// ID implements ports.Agent.
func (a *QAAgent) ID() string { return QAID }

// Process expects a domain.QARequest and answers with a domain.QAResponse.
func (a *QAAgent) Process(_ context.Context, msg domain.AgentMessage) domain.AgentMessage {
	req, err := requestPayload[domain.QARequest](msg)
	if err != nil {
		return msg.Fail(err)
	}
	return msg.Reply(domain.QAResponse{QA: a.Review(req.Results)})
}

// Review flags every result that needs a second look.
func (a *QAAgent) Review(results []domain.QuestionResult) domain.QAResult {
	var out domain.QAResult
	for _, r := range results {
		for _, f := range a.check(r) {
			out.Flags = append(out.Flags, f)
			out.Reasons = append(out.Reasons, fmt.Sprintf("%s: %s", r.QuestionID, f.Detail))
		}
	}
	out.RequiresHumanReview = len(out.Flags) > 0
	return out
}

func (a *QAAgent) check(r domain.QuestionResult) []domain.QAFlag {
	flag := func(kind domain.QAFlagKind, detail string) domain.QAFlag {
		return domain.QAFlag{QuestionID: r.QuestionID, Kind: kind, Detail: detail}
	}

	if r.Failed() {
		return []domain.QAFlag{flag(domain.FlagQuestionFailed, r.Failure.Cause)}
	}

	var flags []domain.QAFlag
	eval := r.Evaluation
	if eval.Confidence < a.config.ConfidenceThreshold {
		flags = append(flags, flag(domain.FlagLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", eval.Confidence, a.config.ConfidenceThreshold)))
	}
	if eval.MarksAwarded > r.MaxMarks+domain.MarksEpsilon {
		flags = append(flags, flag(domain.FlagExceedsMax,
			fmt.Sprintf("awarded %g of %g", eval.MarksAwarded, r.MaxMarks)))
	}
	if missing := eval.MissingMandatory(); eval.OverallQuality.High() && len(missing) > 0 {
		flags = append(flags, flag(domain.FlagMissingMandatory,
			fmt.Sprintf("%s quality without %s", eval.OverallQuality, strings.Join(missing, ", "))))
	}

	if a.config.EvidenceSimilarity > 0 {
		for _, c := range eval.Concepts {
			if !c.Present || c.Evidence == "" {
				continue
			}
			if s := traceSimilarity(c.Evidence, r.Answer); s < a.config.EvidenceSimilarity {
				flags = append(flags, flag(domain.FlagUntraceableEvidence,
					fmt.Sprintf("evidence for %q not found in answer (similarity %.2f)", c.Concept, s)))
			}
		}
	}
	return flags
}
