package report

import (
	"time"
)

// Submission is a confirmed report, ready to be persisted and handed to the
// moderators.
type Submission struct {
	ID          string
	ReporterID  string
	Item        Item
	Reason      Reason
	Details     Details
	SubmittedAt time.Time
}

// Submission returns the confirmed report. It reports false unless the user
// confirmed at the review step; cancelled sessions have no submission.
func (s *Session) Submission() (Submission, bool) {
	if !s.submitted || s.item == nil {
		return Submission{}, false
	}
	return Submission{
		Item:        *s.item,
		Reason:      s.reason,
		Details:     s.details,
		SubmittedAt: time.Now().UTC(),
	}, true
}

// SubmittedEvent is published on the message bus for every stored report.
type SubmittedEvent struct {
	ReportID    string           `json:"report_id"`
	ReporterID  string           `json:"reporter_id"`
	Item        ItemSnapshot     `json:"item"`
	Reason      string           `json:"reason"`
	Details     *DetailsSnapshot `json:"details,omitempty"`
	SubmittedAt int64            `json:"submitted_at"`
}

// Event converts a stored submission into its bus representation.
func (sub *Submission) Event() SubmittedEvent {
	return SubmittedEvent{
		ReportID:    sub.ID,
		ReporterID:  sub.ReporterID,
		Item:        ItemSnapshot{ItemRef: sub.Item.Ref, Author: sub.Item.Author, Content: sub.Item.Content},
		Reason:      sub.Reason.String(),
		Details:     snapshotDetails(sub.Details),
		SubmittedAt: sub.SubmittedAt.Unix(),
	}
}

// ThreatToSafety reports whether the reporter said they feel an immediate
// threat. Only blackmail reports carry the answer.
func (e SubmittedEvent) ThreatToSafety() bool {
	return e.Details != nil && e.Details.ThreatToSafety != nil && *e.Details.ThreatToSafety
}
