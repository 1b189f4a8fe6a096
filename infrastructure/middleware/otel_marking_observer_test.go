package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

func TestOTelMarkingObserver_Lifecycle(t *testing.T) {
	pm, _ := newTestMetrics(t)
	obs := NewOTelMarkingObserver(pm).WithTracerProvider(noop.NewTracerProvider())

	ctx := obs.SubmissionStarted(context.Background(), ports.SubmissionInfo{ReportID: "r1", GuideID: "g1", StudentID: "s1"})
	obs.StageCompleted(ctx, domain.StageGuideResolved, 10*time.Millisecond)
	obs.StageCompleted(ctx, domain.StageAnswersEvaluated, 2*time.Second)
	obs.QuestionFailed(ctx, domain.QuestionFailure{QuestionID: "q2", Stage: domain.StageAnswersEvaluated, Cause: "timeout"})

	report := &domain.EvaluationReport{ID: "r1"}
	report.QA.RequiresHumanReview = true
	obs.SubmissionFinished(ctx, report, 3*time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.questionFailures.WithLabelValues(string(domain.StageAnswersEvaluated))))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.submissions.WithLabelValues(OutcomeNeedsReview)))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.stageDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.submissionTime))
}

func TestOTelMarkingObserver_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		report  *domain.EvaluationReport
		err     error
		outcome string
	}{
		{"completed", &domain.EvaluationReport{ID: "r"}, nil, OutcomeCompleted},
		{"failed", nil, errors.New("guide not found"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestMetrics(t)
			obs := NewOTelMarkingObserver(pm)

			ctx := obs.SubmissionStarted(context.Background(), ports.SubmissionInfo{ReportID: "r"})
			obs.SubmissionFinished(ctx, tt.report, time.Second, tt.err)

			assert.Equal(t, 1.0, testutil.ToFloat64(pm.submissions.WithLabelValues(tt.outcome)))
		})
	}
}

func TestOTelMarkingObserver_NilMetrics(t *testing.T) {
	obs := NewOTelMarkingObserver(nil)
	assert.NotPanics(t, func() {
		ctx := obs.SubmissionStarted(context.Background(), ports.SubmissionInfo{})
		obs.StageCompleted(ctx, domain.StageScored, time.Millisecond)
		obs.QuestionFailed(ctx, domain.QuestionFailure{QuestionID: "q1"})
		obs.SubmissionFinished(ctx, nil, time.Millisecond, nil)
	})
}
