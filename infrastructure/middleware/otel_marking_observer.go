package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

const tracerName = "answer-sheet-marker"

// Submission outcomes recorded on MetricSubmissions.
const (
	OutcomeCompleted   = "completed"
	OutcomeNeedsReview = "needs_review"
	OutcomeFailed      = "failed"
)

var _ ports.MarkingObserver = (*OTelMarkingObserver)(nil)

// OTelMarkingObserver traces each submission as one span with an event per
// stage transition and per failed question. Stage timings and outcomes are
// also recorded on the metrics collector when one is set.
//
// The observer holds no per-submission state; the span travels in the
// context returned by SubmissionStarted.
type OTelMarkingObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelMarkingObserver creates an observer using the global tracer
// provider. metrics may be nil.
func NewOTelMarkingObserver(metrics ports.MetricsCollector) *OTelMarkingObserver {
	return &OTelMarkingObserver{metrics: metrics, tracer: otel.Tracer(tracerName)}
}

// WithTracerProvider returns a copy of the observer that uses tp instead of
// the global provider.
func (o *OTelMarkingObserver) WithTracerProvider(tp trace.TracerProvider) *OTelMarkingObserver {
	return &OTelMarkingObserver{metrics: o.metrics, tracer: tp.Tracer(tracerName)}
}

// SubmissionStarted implements ports.MarkingObserver.
func (o *OTelMarkingObserver) SubmissionStarted(ctx context.Context, sub ports.SubmissionInfo) context.Context {
	ctx, span := o.tracer.Start(ctx, "Marker.MarkSubmission")
	span.SetAttributes(
		attribute.String("marking.report_id", sub.ReportID),
		attribute.String("marking.guide_id", sub.GuideID),
		attribute.String("marking.student_id", sub.StudentID),
	)
	return ctx
}

// StageCompleted implements ports.MarkingObserver.
func (o *OTelMarkingObserver) StageCompleted(ctx context.Context, stage domain.Stage, elapsed time.Duration) {
	trace.SpanFromContext(ctx).AddEvent("marking.stage", trace.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.Int64("elapsed_ms", elapsed.Milliseconds()),
	))
	if o.metrics != nil {
		o.metrics.RecordLatency(MetricStageDuration, elapsed, map[string]string{"stage": string(stage)})
	}
}

// QuestionFailed implements ports.MarkingObserver.
func (o *OTelMarkingObserver) QuestionFailed(ctx context.Context, failure domain.QuestionFailure) {
	trace.SpanFromContext(ctx).AddEvent("marking.question_failed", trace.WithAttributes(
		attribute.String("question_id", failure.QuestionID),
		attribute.String("stage", string(failure.Stage)),
		attribute.String("cause", failure.Cause),
	))
	if o.metrics != nil {
		o.metrics.RecordCounter(MetricQuestionFailures, 1, map[string]string{"stage": string(failure.Stage)})
	}
}

// SubmissionFinished implements ports.MarkingObserver and ends the span.
func (o *OTelMarkingObserver) SubmissionFinished(
	ctx context.Context,
	report *domain.EvaluationReport,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	outcome := OutcomeCompleted
	switch {
	case err != nil:
		outcome = OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case report != nil:
		span.SetAttributes(
			attribute.Float64("marking.total_marks", report.Scoring.TotalMarks),
			attribute.Float64("marking.max_marks", report.Scoring.MaxMarks),
			attribute.String("marking.grade", report.Scoring.Grade),
			attribute.Bool("marking.requires_review", report.QA.RequiresHumanReview),
		)
		if report.QA.RequiresHumanReview {
			outcome = OutcomeNeedsReview
		}
		span.SetStatus(codes.Ok, "")
	}

	if o.metrics != nil {
		o.metrics.RecordCounter(MetricSubmissions, 1, map[string]string{"outcome": outcome})
		o.metrics.RecordLatency(MetricSubmissionTime, elapsed, nil)
	}
}
