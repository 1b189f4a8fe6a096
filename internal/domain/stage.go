package domain

// Stage is a step of the submission marking state machine.
type Stage string

// Marking stages in the order a submission passes through them. StageFailed
// is terminal and only ever recorded against individual questions.
const (
	StageReceived          Stage = "received"
	StageGuideResolved     Stage = "guide_resolved"
	StageQuestionsAnalyzed Stage = "questions_analyzed"
	StageAnswersEvaluated  Stage = "answers_evaluated"
	StageScored            Stage = "scored"
	StageFeedbackGenerated Stage = "feedback_generated"
	StageQAReviewed        Stage = "qa_reviewed"
	StageReportReady       Stage = "report_ready"
	StageFailed            Stage = "failed"
)

var stageOrder = []Stage{
	StageReceived,
	StageGuideResolved,
	StageQuestionsAnalyzed,
	StageAnswersEvaluated,
	StageScored,
	StageFeedbackGenerated,
	StageQAReviewed,
	StageReportReady,
}

// Next returns the stage that follows s. Terminal stages return themselves.
func (s Stage) Next() Stage {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return s
}

// Terminal reports whether no further transitions leave s.
func (s Stage) Terminal() bool {
	return s == StageReportReady || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next is a legal transition.
// Any non-terminal stage may move to StageFailed.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return s.Next() == next
}

// Stages returns the forward stage order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}
