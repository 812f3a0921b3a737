// Package notify publishes run events to NATS so other services can react
// to newly materialized collectibles.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/pkg/natsutil"
)

// OutcomeEvent is published once per item on <subject>.outcome.
type OutcomeEvent struct {
	RunID   string              `json:"run_id"`
	Outcome collectible.Outcome `json:"outcome"`
}

// SummaryEvent is published once per run on <subject>.summary.
type SummaryEvent struct {
	collectible.RunSummary
	ElapsedMS int64 `json:"elapsed_ms"`
}

// Notifier publishes events. A nil *Notifier drops everything.
type Notifier struct {
	pub     natsutil.Publisher
	subject string
	close   func()
	log     *slog.Logger
}

// New creates a Notifier publishing under subject.
func New(pub natsutil.Publisher, subject string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pub: pub, subject: subject, log: log}
}

// Connect dials the NATS server at url.
func Connect(url, subject string, log *slog.Logger) (*Notifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("medal-parser"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	n := New(nc, subject, log)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return n, nil
}

// OutcomeSubject is the subject item events go to.
func (n *Notifier) OutcomeSubject() string { return n.subject + ".outcome" }

// SummarySubject is the subject run summaries go to.
func (n *Notifier) SummarySubject() string { return n.subject + ".summary" }

// Outcome publishes one item outcome. Failures are logged, not returned.
func (n *Notifier) Outcome(ctx context.Context, runID string, o collectible.Outcome) {
	if n == nil {
		return
	}
	if err := natsutil.Publish(ctx, n.pub, n.OutcomeSubject(), OutcomeEvent{RunID: runID, Outcome: o}); err != nil {
		n.log.Warn("publish outcome failed", "item", o.ItemID, "error", err)
	}
}

// Summary publishes the run summary.
func (n *Notifier) Summary(ctx context.Context, s collectible.RunSummary) error {
	if n == nil {
		return nil
	}
	ev := SummaryEvent{RunSummary: s, ElapsedMS: s.Elapsed().Milliseconds()}
	if err := natsutil.Publish(ctx, n.pub, n.SummarySubject(), ev); err != nil {
		return fmt.Errorf("notify: publish summary: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *Notifier) Close() {
	if n != nil && n.close != nil {
		n.close()
	}
}
