package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/agents"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

var errAnswerNotLocated = errors.New("answer not located on the sheet")

// submission is one run of the marking state machine. Per-question work is
// written into index-addressed slices and joined by the errgroup, so no
// result is shared between goroutines.
type submission struct {
	m         *Marker
	guide     domain.MarkingGuide
	reportID  string
	studentID string
	hash      string

	stage     domain.Stage
	stageFrom time.Time
	results   []domain.QuestionResult
}

func newSubmission(m *Marker, guide domain.MarkingGuide, reportID, studentID, hash string) *submission {
	return &submission{
		m:         m,
		guide:     guide,
		reportID:  reportID,
		studentID: studentID,
		hash:      hash,
		stage:     domain.StageReceived,
	}
}

// run drives the submission from received to report_ready. Only faults
// outside marking (unreadable document, cancelled context, agent wiring
// errors) are returned; question-level problems are recorded in the report.
func (s *submission) run(ctx context.Context, data []byte) (report domain.EvaluationReport, err error) {
	ctx = ports.WithUsageScope(ctx, ports.UsageScope{ContextID: s.reportID, Kind: domain.ContextReport})
	ctx = s.m.observer.SubmissionStarted(ctx, ports.SubmissionInfo{
		ReportID:  s.reportID,
		GuideID:   s.guide.ID,
		StudentID: s.studentID,
	})
	started := time.Now()
	s.stageFrom = started
	defer func() {
		if err != nil {
			s.m.observer.StageCompleted(ctx, domain.StageFailed, time.Since(s.stageFrom))
			s.stage = domain.StageFailed
			s.m.observer.SubmissionFinished(ctx, nil, time.Since(started), err)
			return
		}
		s.m.observer.SubmissionFinished(ctx, &report, time.Since(started), nil)
	}()

	doc, err := s.m.extractor.Extract(ctx, data)
	if err != nil {
		return report, fmt.Errorf("failed to read answer sheet: %w", err)
	}
	if err := s.advance(ctx, domain.StageGuideResolved); err != nil {
		return report, err
	}

	s.segment(ctx, doc.Text())
	if err := s.advance(ctx, domain.StageQuestionsAnalyzed); err != nil {
		return report, err
	}

	if err := s.evaluate(ctx); err != nil {
		return report, err
	}
	if err := s.advance(ctx, domain.StageAnswersEvaluated); err != nil {
		return report, err
	}

	scoring, err := s.score(ctx)
	if err != nil {
		return report, err
	}
	if err := s.advance(ctx, domain.StageScored); err != nil {
		return report, err
	}

	if err := s.writeFeedback(ctx); err != nil {
		return report, err
	}
	if err := s.advance(ctx, domain.StageFeedbackGenerated); err != nil {
		return report, err
	}

	qa, err := s.review(ctx, scoring)
	if err != nil {
		return report, err
	}
	if err := s.advance(ctx, domain.StageQAReviewed); err != nil {
		return report, err
	}

	report = domain.EvaluationReport{
		ID:          s.reportID,
		GuideID:     s.guide.ID,
		StudentID:   s.studentID,
		ContentHash: s.hash,
		Questions:   s.results,
		Scoring:     scoring,
		QA:          qa,
		Scanned:     doc.Scanned,
		CreatedAt:   s.m.now().UTC(),
	}
	if err := s.advance(ctx, domain.StageReportReady); err != nil {
		return domain.EvaluationReport{}, err
	}
	report.Stage = s.stage
	return report, nil
}

// advance moves to next and reports the time spent reaching it. A
// cancelled context stops the machine between stages.
func (s *submission) advance(ctx context.Context, next domain.Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.stage.CanAdvanceTo(next) {
		return domain.NewStageError(s.stage, "", fmt.Errorf("illegal transition to %s", next))
	}
	now := time.Now()
	s.m.observer.StageCompleted(ctx, next, now.Sub(s.stageFrom))
	s.stage, s.stageFrom = next, now
	return nil
}

// segment attributes the sheet's text to the guide's questions. A question
// with no heading on the sheet fails here rather than being marked as blank.
func (s *submission) segment(ctx context.Context, text string) {
	answers, located := agents.SplitAnswers(text, s.guide.Questions)

	s.results = make([]domain.QuestionResult, len(s.guide.Questions))
	for i, q := range s.guide.Questions {
		s.results[i] = domain.QuestionResult{
			QuestionID: q.ID,
			Number:     q.Number,
			MaxMarks:   q.MaxMarks,
			Answer:     answers[i],
		}
		if !located[i] {
			s.fail(ctx, i, domain.StageQuestionsAnalyzed, errAnswerNotLocated)
		}
	}
}

// evaluate fans the answers out to the evaluator, bounded by the marker's
// concurrency limit.
func (s *submission) evaluate(ctx context.Context) error {
	failures := make([]error, len(s.results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.m.maxConcurrency)
	for i := range s.results {
		if s.results[i].Failed() {
			continue
		}
		q := s.guide.Questions[i]
		answer := s.results[i].Answer
		g.Go(func() error {
			reply := s.m.send(gctx, s.m.evaluator, domain.EvaluateRequest{Question: q, Answer: answer})
			resp, err := domain.PayloadAs[domain.EvaluateResponse](reply)
			if err != nil {
				failures[i] = err
				return nil
			}
			s.results[i].Evaluation = resp.Evaluation
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for i, err := range failures {
		if err != nil {
			s.fail(ctx, i, domain.StageAnswersEvaluated, err)
		}
	}
	return nil
}

func (s *submission) score(ctx context.Context) (domain.ScoringResult, error) {
	reply := s.m.send(ctx, s.m.scoring, domain.ScoreRequest{Guide: s.guide, Results: s.results})
	resp, err := domain.PayloadAs[domain.ScoreResponse](reply)
	if err != nil {
		return domain.ScoringResult{}, domain.NewStageError(domain.StageScored, "", err)
	}
	return resp.Scoring, nil
}

// writeFeedback asks for feedback on every evaluated question. Failed
// questions and unusable replies get the fallback text, so no question is
// left without feedback.
func (s *submission) writeFeedback(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.m.maxConcurrency)
	for i := range s.results {
		r := s.results[i]
		if r.Failed() {
			s.results[i].Feedback = s.m.fallback
			continue
		}
		q := s.guide.Questions[i]
		g.Go(func() error {
			reply := s.m.send(gctx, s.m.feedback, domain.FeedbackRequest{
				Question:   q,
				Answer:     r.Answer,
				Evaluation: r.Evaluation,
			})
			resp, err := domain.PayloadAs[domain.FeedbackResponse](reply)
			if err != nil {
				s.m.logger.Warn().Err(err).Str("question_id", q.ID).Msg("feedback unavailable")
				s.results[i].Feedback = s.m.fallback
				return nil
			}
			s.results[i].Feedback = resp.Feedback
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *submission) review(ctx context.Context, scoring domain.ScoringResult) (domain.QAResult, error) {
	reply := s.m.send(ctx, s.m.qa, domain.QARequest{Guide: s.guide, Results: s.results, Scoring: scoring})
	resp, err := domain.PayloadAs[domain.QAResponse](reply)
	if err != nil {
		return domain.QAResult{}, domain.NewStageError(domain.StageQAReviewed, "", err)
	}
	return resp.QA, nil
}

// fail records question i as failed: zero marks, human review, and the
// cause as the review reason.
func (s *submission) fail(ctx context.Context, i int, stage domain.Stage, cause error) {
	r := &s.results[i]
	failure := domain.QuestionFailure{
		QuestionID: r.QuestionID,
		Stage:      stage,
		Cause:      failureCause(cause),
	}
	r.Failure = &failure
	r.Evaluation = domain.AnswerEvaluation{
		QuestionID:          r.QuestionID,
		OverallQuality:      domain.TierNone,
		RequiresHumanReview: true,
		ReviewReasons:       []string{failure.Cause},
	}

	s.m.observer.QuestionFailed(ctx, failure)
	s.m.logger.Warn().Str("report_id", s.reportID).Str("question_id", r.QuestionID).
		Str("stage", string(stage)).Str("cause", failure.Cause).Msg("question failed")
}

// failureCause turns an error into a reason a reviewer can act on.
func failureCause(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedOutput):
		return "model output could not be parsed after a retry"
	case errors.Is(err, ports.ErrTokenLimitExceeded):
		return "model output was cut off by the token limit"
	case ports.IsTransient(err):
		return "model provider unavailable after retries: " + err.Error()
	default:
		return strings.TrimSpace(err.Error())
	}
}
