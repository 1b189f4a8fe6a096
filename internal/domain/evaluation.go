package domain

import "time"

// QualityTier grades the overall quality of an answer or the accuracy of a
// single concept.
type QualityTier string

// Quality tiers from best to worst. TierNone marks a concept that is absent.
const (
	TierExcellent    QualityTier = "excellent"
	TierGood         QualityTier = "good"
	TierSatisfactory QualityTier = "satisfactory"
	TierPoor         QualityTier = "poor"
	TierNone         QualityTier = "none"
)

// High reports whether the tier is excellent or good.
func (t QualityTier) High() bool {
	return t == TierExcellent || t == TierGood
}

// Valid reports whether t is a known tier.
func (t QualityTier) Valid() bool {
	switch t {
	case TierExcellent, TierGood, TierSatisfactory, TierPoor, TierNone:
		return true
	}
	return false
}

// ConceptResult is the evaluator's verdict on one key concept.
type ConceptResult struct {
	Concept      string      `json:"concept"`
	Mandatory    bool        `json:"mandatory"`
	Present      bool        `json:"present"`
	Accuracy     QualityTier `json:"accuracy"`
	Evidence     string      `json:"evidence"`
	PointsEarned float64     `json:"points_earned"`
}

// AnswerEvaluation is the judged result for one question of one sheet.
type AnswerEvaluation struct {
	QuestionID          string          `json:"question_id"`
	Concepts            []ConceptResult `json:"concepts"`
	OverallQuality      QualityTier     `json:"overall_quality"`
	Confidence          float64         `json:"confidence"`
	MarksAwarded        float64         `json:"marks_awarded"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	ReviewReasons       []string        `json:"review_reasons,omitempty"`
	Strengths           []string        `json:"strengths,omitempty"`
	Weaknesses          []string        `json:"weaknesses,omitempty"`
}

// PointsEarned sums the points earned across all concepts.
func (e AnswerEvaluation) PointsEarned() float64 {
	var sum float64
	for _, c := range e.Concepts {
		sum += c.PointsEarned
	}
	return sum
}

// MissingMandatory returns the mandatory concepts marked not present.
func (e AnswerEvaluation) MissingMandatory() []string {
	var missing []string
	for _, c := range e.Concepts {
		if c.Mandatory && !c.Present {
			missing = append(missing, c.Concept)
		}
	}
	return missing
}

// Flag marks the evaluation for human review with the given reason.
// Duplicate reasons are ignored.
func (e *AnswerEvaluation) Flag(reason string) {
	e.RequiresHumanReview = true
	for _, r := range e.ReviewReasons {
		if r == reason {
			return
		}
	}
	e.ReviewReasons = append(e.ReviewReasons, reason)
}

// QuestionFailure records why a question could not be evaluated.
type QuestionFailure struct {
	QuestionID string `json:"question_id"`
	Stage      Stage  `json:"stage"`
	Cause      string `json:"cause"`
}

// Error implements error so a failure can travel through error returns.
func (f *QuestionFailure) Error() string {
	return "question " + f.QuestionID + " failed during " + string(f.Stage) + ": " + f.Cause
}

// QuestionResult is one entry of a report, in guide order.
type QuestionResult struct {
	QuestionID string           `json:"question_id"`
	Number     string           `json:"number"`
	MaxMarks   float64          `json:"max_marks"`
	Answer     string           `json:"answer"`
	Evaluation AnswerEvaluation `json:"evaluation"`
	Feedback   string           `json:"feedback"`
	Failure    *QuestionFailure `json:"failure,omitempty"`
}

// Failed reports whether the question ended in the failed state.
func (r QuestionResult) Failed() bool { return r.Failure != nil }

// ScoringResult aggregates marks across the sheet.
type ScoringResult struct {
	TotalMarks float64 `json:"total_marks"`
	MaxMarks   float64 `json:"max_marks"`
	Percentage float64 `json:"percentage"`
	Grade      string  `json:"grade"`
	Passed     bool    `json:"passed"`
	Clamped    bool    `json:"clamped,omitempty"`
}

// QAFlagKind names a category of consistency problem.
type QAFlagKind string

// QA flag kinds.
const (
	FlagLowConfidence       QAFlagKind = "low_confidence"
	FlagExceedsMax          QAFlagKind = "exceeds_max_marks"
	FlagMissingMandatory    QAFlagKind = "missing_mandatory_concept"
	FlagQuestionFailed      QAFlagKind = "question_failed"
	FlagUntraceableEvidence QAFlagKind = "untraceable_evidence"
)

// QAFlag is one consistency problem found during review.
type QAFlag struct {
	QuestionID string     `json:"question_id"`
	Kind       QAFlagKind `json:"kind"`
	Detail     string     `json:"detail"`
}

// QAResult is the outcome of the consistency review.
type QAResult struct {
	Flags               []QAFlag `json:"flags,omitempty"`
	RequiresHumanReview bool     `json:"requires_human_review"`
	Reasons             []string `json:"reasons,omitempty"`
}

// EvaluationReport is the immutable outcome of marking one submission.
type EvaluationReport struct {
	ID          string           `json:"id"`
	GuideID     string           `json:"guide_id"`
	StudentID   string           `json:"student_id"`
	ContentHash string           `json:"content_hash"`
	Questions   []QuestionResult `json:"questions"`
	Scoring     ScoringResult    `json:"scoring"`
	QA          QAResult         `json:"qa"`
	Stage       Stage            `json:"stage"`
	Scanned     bool             `json:"scanned,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RequiresHumanReview reports whether any part of the report needs a person.
func (r EvaluationReport) RequiresHumanReview() bool {
	if r.QA.RequiresHumanReview {
		return true
	}
	for _, q := range r.Questions {
		if q.Failed() || q.Evaluation.RequiresHumanReview {
			return true
		}
	}
	return false
}
