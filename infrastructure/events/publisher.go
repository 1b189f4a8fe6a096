// Package events announces marking milestones on NATS so other systems can
// react to analyzed guides and finished reports.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// Subjects published by the marker, relative to the configured prefix.
const (
	SubjectGuideAnalyzed = "guides.analyzed"
	SubjectReportReady   = "reports.ready"
)

// GuideAnalyzed is published after a guide upload.
type GuideAnalyzed struct {
	GuideID    string  `json:"guide_id"`
	Title      string  `json:"title"`
	Questions  int     `json:"questions"`
	TotalMarks float64 `json:"total_marks"`
	Cached     bool    `json:"cached"`
}

// ReportReady is published after a submission is marked.
type ReportReady struct {
	ReportID            string  `json:"report_id"`
	GuideID             string  `json:"guide_id"`
	StudentID           string  `json:"student_id"`
	TotalMarks          float64 `json:"total_marks"`
	MaxMarks            float64 `json:"max_marks"`
	Percentage          float64 `json:"percentage"`
	Grade               string  `json:"grade"`
	RequiresHumanReview bool    `json:"requires_human_review"`
	Cached              bool    `json:"cached"`
}

// Connect dials a NATS server.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, ports.NewConfigError("events.nats_url", fmt.Errorf("nats url must not be empty"))
	}
	nc, err := nats.Connect(url,
		nats.Name("answer-sheet-marker"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes JSON payloads on {prefix}.{subject}.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

var _ ports.EventPublisher = (*NATSPublisher)(nil)

// NewNATSPublisher wraps an open connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.Trim(prefix, "."),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subject returns the full subject for a relative one.
func (p *NATSPublisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

// Publish marshals payload and sends it. NATS publishes are asynchronous;
// ctx is only checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}
	if p.conn == nil || p.conn.IsClosed() {
		return nats.ErrConnectionClosed
	}

	full := p.Subject(subject)
	if err := p.conn.Publish(full, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", full, err)
	}
	p.logger.Debug().Str("subject", full).Int("bytes", len(data)).Msg("event published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// NopPublisher discards events. It is used when no NATS url is configured.
type NopPublisher struct{}

// Publish implements ports.EventPublisher.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }
