package report

import (
	"context"
	"errors"
	"log"
	"strings"
)

// ErrItemNotFound is returned by an ItemFetcher when the referenced message
// does not exist or cannot be read.
var ErrItemNotFound = errors.New("report: item not found")

// ItemFetcher looks up the message a link points at. Implementations should
// return ErrItemNotFound for a missing item; any other error is treated the
// same way by the session.
type ItemFetcher interface {
	FetchItem(ctx context.Context, ref ItemRef) (Item, error)
}

// Reply texts.
const (
	msgStart        = "Thank you for starting the reporting process. Please copy and paste the link to the message you want to report."
	msgCancelled    = "Report cancelled. Thank you for your vigilance!"
	msgHelp         = "Help: Copy the link of the message you want to report and paste it here. Say `cancel` to exit the reporting process."
	msgItemFound    = "Message found:"
	msgAskReason    = "What is your reason for reporting this message: suspicious link, blackmail, harassment, spam, other?"
	msgNotFound     = "Message not found. Please check the link and try again."
	msgInvalidLink  = "Invalid link. Please check and paste the link again."
	msgAskPrevious  = "Have you been blackmailed by this person before? (yes/no)"
	msgAskThreat    = "Do you feel an immediate threat to your safety? (yes/no)"
	msgAskAuthority = "Have you contacted the authorities? (yes/no)"
	msgReview       = "Review your report:"
	msgConfirm      = "Does everything look correct? (yes/no)"
	msgSubmitted    = "Report submitted. We will review and take appropriate actions. Thank you."
	msgStartOver    = "Let's start over. Please copy and paste the link to the message you want to report."
)

// Session is one user's report in progress. It is not safe for concurrent
// use; callers serialize HandleMessage per session.
type Session struct {
	state     State
	reason    Reason
	rawReason string
	details   Details
	item      *Item
	submitted bool

	fetcher ItemFetcher
}

// NewSession creates a session in StateStart with no reason and no details.
func NewSession(fetcher ItemFetcher) *Session {
	return &Session{
		state:   StateStart,
		reason:  ReasonUnidentified,
		fetcher: fetcher,
	}
}

// step is the outcome of one transition.
type step struct {
	next  State
	lines []string
}

type transition func(s *Session, ctx context.Context, text string) step

// transitions holds the handler for every state that accepts input.
// StateComplete has no entry.
var transitions = map[State]transition{
	StateStart:                       (*Session).onStart,
	StateAwaitingItem:                (*Session).onAwaitingItem,
	StateItemIdentified:              (*Session).onItemIdentified,
	StateAskingDetails:               (*Session).onAskingDetails,
	StateBlackmailCheckPrevious:      (*Session).onBlackmailPrevious,
	StateBlackmailThreatSafety:       (*Session).onBlackmailThreat,
	StateBlackmailContactAuthorities: (*Session).onBlackmailAuthorities,
	StateReview:                      (*Session).onReview,
}

// HandleMessage processes one inbound message and returns the reply lines in
// order. Once the session is complete it returns nil and changes nothing.
func (s *Session) HandleMessage(ctx context.Context, text string) []string {
	if s.state == StateComplete {
		return nil
	}

	switch strings.ToLower(text) {
	case CancelKeyword:
		s.state = StateComplete
		return []string{msgCancelled}
	case HelpKeyword:
		return []string{msgHelp}
	}

	handle, ok := transitions[s.state]
	if !ok {
		log.Printf("[report] no transition for state=%s", s.state)
		return nil
	}
	st := handle(s, ctx, text)
	s.state = st.next
	return st.lines
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Reason returns the classified reason, ReasonUnidentified until chosen.
func (s *Session) Reason() Reason { return s.reason }

// Details returns the answers collected so far, or nil.
func (s *Session) Details() Details { return s.details }

// Item returns the identified item, or nil before one was found.
func (s *Session) Item() *Item { return s.item }

// IsComplete reports whether the session reached StateComplete, either by
// submission or by cancellation.
func (s *Session) IsComplete() bool { return s.state == StateComplete }

// Submitted reports whether the session completed through confirmation at the
// review step.
func (s *Session) Submitted() bool { return s.submitted }

func (s *Session) onStart(_ context.Context, _ string) step {
	return step{next: StateAwaitingItem, lines: []string{msgStart}}
}

func (s *Session) onAwaitingItem(ctx context.Context, text string) step {
	ref, ok := ParseLink(text)
	if !ok {
		// Ids past 64 bits name no message, so the link shape alone earns a
		// not-found rather than an invalid-link reply.
		if linkPattern.MatchString(text) {
			return step{next: StateAwaitingItem, lines: []string{msgNotFound}}
		}
		return step{next: StateAwaitingItem, lines: []string{msgInvalidLink}}
	}

	item, err := s.fetcher.FetchItem(ctx, ref)
	if err != nil {
		if !errors.Is(err, ErrItemNotFound) {
			log.Printf("[report] fetch item=%s: %v", ref, err)
		}
		return step{next: StateAwaitingItem, lines: []string{msgNotFound}}
	}
	item.Ref = ref
	s.item = &item

	return step{next: StateItemIdentified, lines: []string{
		msgItemFound,
		"```" + item.Author + ": " + item.Content + "```",
		msgAskReason,
	}}
}

func (s *Session) onItemIdentified(_ context.Context, text string) step {
	s.rawReason = strings.ToLower(strings.TrimSpace(text))
	s.reason = ClassifyReason(text)

	if s.reason == ReasonBlackmail {
		s.details = &BlackmailDetails{}
		return step{next: StateBlackmailCheckPrevious, lines: []string{msgAskPrevious}}
	}
	return step{next: StateAskingDetails, lines: []string{
		"What details can you provide about the " + s.rawReason +
			"? (e.g., how many messages have you received, any money lost, any personal information shared, etc)",
	}}
}

func (s *Session) onAskingDetails(_ context.Context, text string) step {
	s.details = GenericDetails{Text: text}
	return step{next: StateReview, lines: s.review()}
}

func (s *Session) onBlackmailPrevious(_ context.Context, text string) step {
	s.blackmail().PreviousBlackmail = boolPtr(isYes(text))
	return step{next: StateBlackmailThreatSafety, lines: []string{msgAskThreat}}
}

func (s *Session) onBlackmailThreat(_ context.Context, text string) step {
	s.blackmail().ThreatToSafety = boolPtr(isYes(text))
	return step{next: StateBlackmailContactAuthorities, lines: []string{msgAskAuthority}}
}

func (s *Session) onBlackmailAuthorities(_ context.Context, text string) step {
	s.blackmail().ContactedAuthorities = boolPtr(isYes(text))
	return step{next: StateReview, lines: s.review()}
}

func (s *Session) onReview(_ context.Context, text string) step {
	if isYes(text) {
		s.submitted = true
		return step{next: StateComplete, lines: []string{msgSubmitted}}
	}
	s.reset()
	return step{next: StateStart, lines: []string{msgStartOver}}
}

// blackmail returns the blackmail answers, creating them if missing.
func (s *Session) blackmail() *BlackmailDetails {
	bd, ok := s.details.(*BlackmailDetails)
	if !ok {
		bd = &BlackmailDetails{}
		s.details = bd
	}
	return bd
}

func (s *Session) review() []string {
	lines := []string{msgReview, "Reason: " + s.reason.String()}
	if s.details != nil {
		lines = append(lines, s.details.reviewLines()...)
	}
	return append(lines, msgConfirm)
}

// reset drops everything collected so the flow can restart from a new link.
func (s *Session) reset() {
	s.reason = ReasonUnidentified
	s.rawReason = ""
	s.details = nil
	s.item = nil
}
