package agents

import (
	"context"
	"fmt"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var _ ports.Agent = (*ScoringAgent)(nil)

// DefaultPassPercentage is used when no pass mark is configured.
const DefaultPassPercentage = 50.0

// ScoringAgent aggregates evaluations into a sheet total, percentage and
// grade. It makes no model calls.
type ScoringAgent struct {
	scale       domain.GradeScale
	passPercent float64
}

// NewScoringAgent creates a scoring agent. A zero scale uses the default
// grade bands.
func NewScoringAgent(scale domain.GradeScale, passPercent float64) (*ScoringAgent, error) {
	if passPercent < 0 || passPercent > 100 {
		return nil, fmt.Errorf("%w: pass percentage %.2f out of range", domain.ErrInvalidConfiguration, passPercent)
	}
	if len(scale.Bands()) == 0 {
		scale = domain.MustGradeScale(domain.DefaultGradeBands())
	}
	return &ScoringAgent{scale: scale, passPercent: passPercent}, nil
}

// ID implements ports.Agent.
func (s *ScoringAgent) ID() string { return ScoringID }

// Process expects a domain.ScoreRequest and answers with a
// domain.ScoreResponse.
func (s *ScoringAgent) Process(_ context.Context, msg domain.AgentMessage) domain.AgentMessage {
	req, err := requestPayload[domain.ScoreRequest](msg)
	if err != nil {
		return msg.Fail(err)
	}
	return msg.Reply(domain.ScoreResponse{Scoring: s.Score(req.Results)})
}

// Score totals results. Failed questions count as zero marks out of their
// maximum. Awards outside [0, max] are clamped and reported.
func (s *ScoringAgent) Score(results []domain.QuestionResult) domain.ScoringResult {
	var out domain.ScoringResult
	for _, r := range results {
		out.MaxMarks += r.MaxMarks
		if r.Failed() {
			continue
		}

		awarded := r.Evaluation.MarksAwarded
		switch {
		case awarded > r.MaxMarks:
			awarded = r.MaxMarks
			out.Clamped = true
		case awarded < 0:
			awarded = 0
			out.Clamped = true
		}
		out.TotalMarks += awarded
	}

	out.TotalMarks = domain.RoundMarks(out.TotalMarks)
	out.MaxMarks = domain.RoundMarks(out.MaxMarks)
	if out.MaxMarks > 0 {
		out.Percentage = domain.RoundMarks(out.TotalMarks / out.MaxMarks * 100)
	}
	out.Grade = s.scale.Grade(out.Percentage)
	out.Passed = out.Percentage >= s.passPercent
	return out
}
