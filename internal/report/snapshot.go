package report

import "fmt"

// Snapshot is the serialisable form of a Session. It captures everything
// needed to resume a conversation in another process.
type Snapshot struct {
	State     string           `json:"state"`
	Reason    string           `json:"reason"`
	RawReason string           `json:"raw_reason,omitempty"`
	Details   *DetailsSnapshot `json:"details,omitempty"`
	Item      *ItemSnapshot    `json:"item,omitempty"`
	Submitted bool             `json:"submitted,omitempty"`
}

// Details kinds.
const (
	DetailsKindGeneric   = "generic"
	DetailsKindBlackmail = "blackmail"
)

// DetailsSnapshot flattens the Details variant with a kind discriminator.
type DetailsSnapshot struct {
	Kind                 string `json:"kind"`
	Text                 string `json:"text,omitempty"`
	PreviousBlackmail    *bool  `json:"previous_blackmail,omitempty"`
	ThreatToSafety       *bool  `json:"threat_to_safety,omitempty"`
	ContactedAuthorities *bool  `json:"contacted_authorities,omitempty"`
}

// ItemSnapshot is the identified item with its reference.
type ItemSnapshot struct {
	ItemRef
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state.String(),
		Reason:    s.reason.String(),
		RawReason: s.rawReason,
		Details:   snapshotDetails(s.details),
		Submitted: s.submitted,
	}
	if s.item != nil {
		snap.Item = &ItemSnapshot{ItemRef: s.item.Ref, Author: s.item.Author, Content: s.item.Content}
	}
	return snap
}

// Restore rebuilds a session from a snapshot. The fetcher is used for any
// further link lookups. A snapshot whose state needs answers it does not
// carry is rejected.
func Restore(snap Snapshot, fetcher ItemFetcher) (*Session, error) {
	state, err := ParseState(snap.State)
	if err != nil {
		return nil, err
	}
	reason, err := ParseReason(snap.Reason)
	if err != nil {
		return nil, err
	}
	details, err := restoreDetails(snap.Details)
	if err != nil {
		return nil, err
	}

	s := &Session{
		state:     state,
		reason:    reason,
		rawReason: snap.RawReason,
		details:   details,
		submitted: snap.Submitted,
		fetcher:   fetcher,
	}
	if snap.Item != nil {
		s.item = &Item{Ref: snap.Item.ItemRef, Author: snap.Item.Author, Content: snap.Item.Content}
	}
	if err := s.checkRestored(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkRestored verifies that everything collected before the current state
// is present.
func (s *Session) checkRestored() error {
	switch s.state {
	case StateStart, StateAwaitingItem, StateComplete:
		return nil
	}
	if s.item == nil {
		return fmt.Errorf("report: state %s without item", s.state)
	}
	if s.state == StateItemIdentified {
		return nil
	}

	bd, blackmail := s.details.(*BlackmailDetails)
	switch s.state {
	case StateAskingDetails:
		if s.reason == ReasonUnidentified || s.reason == ReasonBlackmail {
			return fmt.Errorf("report: state %s with reason %s", s.state, s.reason)
		}
	case StateBlackmailCheckPrevious, StateBlackmailThreatSafety, StateBlackmailContactAuthorities:
		if s.reason != ReasonBlackmail || !blackmail {
			return fmt.Errorf("report: state %s without blackmail answers", s.state)
		}
		if (s.state != StateBlackmailCheckPrevious && bd.PreviousBlackmail == nil) ||
			(s.state == StateBlackmailContactAuthorities && bd.ThreatToSafety == nil) {
			return fmt.Errorf("report: state %s with unanswered questions", s.state)
		}
	case StateReview:
		if s.reason == ReasonUnidentified || s.details == nil || blackmail != (s.reason == ReasonBlackmail) {
			return fmt.Errorf("report: state %s without details", s.state)
		}
		if blackmail && !bd.Complete() {
			return fmt.Errorf("report: state %s with unanswered questions", s.state)
		}
	}
	return nil
}

func snapshotDetails(d Details) *DetailsSnapshot {
	switch v := d.(type) {
	case GenericDetails:
		return &DetailsSnapshot{Kind: DetailsKindGeneric, Text: v.Text}
	case *BlackmailDetails:
		return &DetailsSnapshot{
			Kind:                 DetailsKindBlackmail,
			PreviousBlackmail:    v.PreviousBlackmail,
			ThreatToSafety:       v.ThreatToSafety,
			ContactedAuthorities: v.ContactedAuthorities,
		}
	}
	return nil
}

func restoreDetails(ds *DetailsSnapshot) (Details, error) {
	if ds == nil {
		return nil, nil
	}
	switch ds.Kind {
	case DetailsKindGeneric:
		return GenericDetails{Text: ds.Text}, nil
	case DetailsKindBlackmail:
		return &BlackmailDetails{
			PreviousBlackmail:    ds.PreviousBlackmail,
			ThreatToSafety:       ds.ThreatToSafety,
			ContactedAuthorities: ds.ContactedAuthorities,
		}, nil
	}
	return nil, fmt.Errorf("report: unknown details kind %q", ds.Kind)
}
