// Package triage prioritises submitted reports for the moderator queue. It
// looks at what the reporter told us (reason, blackmail answers) and at the
// reported content itself, and picks one of the report priorities.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/report"
)

// Report signal names, in addition to the content signals.
const (
	SignalThreatToSafety = "threat_to_safety"
	SignalBlackmail      = "blackmail"
	SignalRepeatOffender = "repeat_offender"
)

const (
	// RepeatWindow is how far back reports against the same author count.
	RepeatWindow = 24 * time.Hour

	// RepeatThreshold is the number of reports within RepeatWindow,
	// including the current one, that marks a repeat offender.
	RepeatThreshold = 3
)

// Assessment is the triage outcome for one report.
type Assessment struct {
	Priority string   `json:"priority"`
	Signals  []string `json:"signals"`
}

// corroborating lists the content signals that back up a reason.
var corroborating = map[string][]string{
	report.ReasonSuspiciousLink.String(): {SignalURL},
	report.ReasonSpam.String():           {SignalURL, SignalPhone, SignalCharFlood, SignalWordFlood},
}

// Assess computes the priority of a submitted report. recent is the number
// of reports filed against the same author within RepeatWindow.
func Assess(ev report.SubmittedEvent, recent int) Assessment {
	signals := ContentSignals(ev.Item.Content)
	priority := report.PriorityNormal

	if hasAny(signals, corroborating[ev.Reason]) {
		priority = report.PriorityHigh
	}
	if ev.Reason == report.ReasonBlackmail.String() {
		signals = append(signals, SignalBlackmail)
		priority = report.PriorityHigh
	}
	if recent >= RepeatThreshold {
		signals = append(signals, SignalRepeatOffender)
		priority = report.PriorityHigh
	}
	if ev.ThreatToSafety() {
		signals = append(signals, SignalThreatToSafety)
		priority = report.PriorityUrgent
	}

	if signals == nil {
		signals = []string{}
	}
	return Assessment{Priority: priority, Signals: signals}
}

func hasAny(signals, wanted []string) bool {
	for _, s := range signals {
		for _, w := range wanted {
			if s == w {
				return true
			}
		}
	}
	return false
}

// ReportStore is the part of report.Store the worker needs.
type ReportStore interface {
	SetTriage(ctx context.Context, id string, priority string, signals []string) error
	CountRecentAgainst(ctx context.Context, author string, window time.Duration) (int, error)
}

// Publisher announces triage outcomes.
type Publisher interface {
	PublishReportTriaged(priority string, data []byte) error
}

// TriagedEvent is published after a report was prioritised.
type TriagedEvent struct {
	ReportID string `json:"report_id"`
	Assessment
}

// Worker consumes submitted reports, assesses them and stores the result.
type Worker struct {
	store ReportStore
	pub   Publisher
}

// NewWorker creates a Worker. pub may be nil to skip announcements.
func NewWorker(store ReportStore, pub Publisher) *Worker {
	return &Worker{store: store, pub: pub}
}

// HandleSubmitted processes one report.submitted payload.
func (w *Worker) HandleSubmitted(ctx context.Context, data []byte) (Assessment, error) {
	var ev report.SubmittedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Assessment{}, fmt.Errorf("triage: unmarshal event: %w", err)
	}
	if ev.ReportID == "" {
		return Assessment{}, fmt.Errorf("triage: event without report id")
	}

	recent, err := w.store.CountRecentAgainst(ctx, ev.Item.Author, RepeatWindow)
	if err != nil {
		// Triage still works without history.
		log.Printf("[triage] count recent author=%q: %v", ev.Item.Author, err)
		recent = 0
	}

	a := Assess(ev, recent)
	if err := w.store.SetTriage(ctx, ev.ReportID, a.Priority, a.Signals); err != nil {
		return a, fmt.Errorf("triage: store %s: %w", ev.ReportID, err)
	}
	metrics.ReportsTriaged.WithLabelValues(a.Priority).Inc()

	if w.pub != nil {
		out, err := json.Marshal(TriagedEvent{ReportID: ev.ReportID, Assessment: a})
		if err != nil {
			return a, fmt.Errorf("triage: marshal result: %w", err)
		}
		if err := w.pub.PublishReportTriaged(a.Priority, out); err != nil {
			log.Printf("[triage] publish report=%s: %v", ev.ReportID, err)
		}
	}

	log.Printf("[triage] report=%s reason=%s priority=%s signals=%v", ev.ReportID, ev.Reason, a.Priority, a.Signals)
	return a, nil
}
