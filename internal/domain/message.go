package domain

import "fmt"

// MessageKind distinguishes requests, replies and failures exchanged between
// the orchestrator and agents.
type MessageKind string

// Message kinds.
const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
	KindError    MessageKind = "error"
)

// AgentMessage is the envelope every agent consumes and produces. Payload
// carries one of the typed request or response structs below, or an
// ErrorPayload when Kind is KindError.
type AgentMessage struct {
	SenderID      string      `json:"sender_id"`
	ReceiverID    string      `json:"receiver_id"`
	Kind          MessageKind `json:"kind"`
	CorrelationID string      `json:"correlation_id"`
	Payload       any         `json:"payload"`
}

// NewRequest builds a request message for an agent.
func NewRequest(sender, receiver, correlationID string, payload any) AgentMessage {
	return AgentMessage{
		SenderID:      sender,
		ReceiverID:    receiver,
		Kind:          KindRequest,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// Reply answers msg with payload, swapping sender and receiver and keeping
// the correlation id.
func (m AgentMessage) Reply(payload any) AgentMessage {
	return AgentMessage{
		SenderID:      m.ReceiverID,
		ReceiverID:    m.SenderID,
		Kind:          KindResponse,
		CorrelationID: m.CorrelationID,
		Payload:       payload,
	}
}

// Fail answers msg with an error payload.
func (m AgentMessage) Fail(err error) AgentMessage {
	return AgentMessage{
		SenderID:      m.ReceiverID,
		ReceiverID:    m.SenderID,
		Kind:          KindError,
		CorrelationID: m.CorrelationID,
		Payload:       ErrorPayload{Err: err},
	}
}

// Err returns the error carried by an error message, or nil.
func (m AgentMessage) Err() error {
	if m.Kind != KindError {
		return nil
	}
	if p, ok := m.Payload.(ErrorPayload); ok && p.Err != nil {
		return p.Err
	}
	return fmt.Errorf("agent %s returned an error without detail", m.SenderID)
}

// ErrorPayload wraps the error an agent failed with.
type ErrorPayload struct {
	Err error
}

// PayloadAs extracts a typed payload from a message.
func PayloadAs[T any](m AgentMessage) (T, error) {
	var zero T
	if err := m.Err(); err != nil {
		return zero, err
	}
	p, ok := m.Payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", ErrUnexpectedPayload, zero, m.Payload)
	}
	return p, nil
}

// AnalyzeRequest asks the question analyzer to structure a guide.
type AnalyzeRequest struct {
	GuideText string
	Hints     []SectionHint
}

// AnalyzeResponse is the question analyzer's result.
type AnalyzeResponse struct {
	Title      string
	TotalMarks float64
	Questions  []AnalyzedQuestion
}

// EvaluateRequest asks the answer evaluator to judge one answer.
type EvaluateRequest struct {
	Question AnalyzedQuestion
	Answer   string
}

// EvaluateResponse carries the evaluator's verdict.
type EvaluateResponse struct {
	Evaluation AnswerEvaluation
}

// ScoreRequest asks the scoring agent to aggregate evaluations.
type ScoreRequest struct {
	Guide   MarkingGuide
	Results []QuestionResult
}

// ScoreResponse is the aggregated score.
type ScoreResponse struct {
	Scoring ScoringResult
}

// FeedbackRequest asks for student feedback on one evaluated answer.
type FeedbackRequest struct {
	Question   AnalyzedQuestion
	Answer     string
	Evaluation AnswerEvaluation
}

// FeedbackResponse carries generated feedback. Degraded is set when the
// fallback text was used instead of model output.
type FeedbackResponse struct {
	Feedback string
	Degraded bool
}

// QARequest asks the QA agent to review a finished set of results.
type QARequest struct {
	Guide   MarkingGuide
	Results []QuestionResult
	Scoring ScoringResult
}

// QAResponse carries the review outcome.
type QAResponse struct {
	QA QAResult
}
