// Package report implements the guided conversation a user goes through to
// report a chat message to the moderators. A Session owns one report from the
// start keyword until it is submitted or cancelled; every inbound message is
// mapped to a list of reply lines and a state transition.
//
// The package is pure logic: it never touches the network except through the
// ItemFetcher it is given, and it never returns errors to the caller.
package report

import "fmt"

// Keywords recognised by the report flow. Comparison lower-cases the whole
// message without trimming.
const (
	StartKeyword  = "report"
	CancelKeyword = "cancel"
	HelpKeyword   = "help"
)

// State is the current step of a report conversation.
type State int

const (
	StateStart State = iota
	StateAwaitingItem
	StateItemIdentified
	StateAskingDetails
	StateBlackmailCheckPrevious
	StateBlackmailThreatSafety
	StateBlackmailContactAuthorities
	StateReview
	StateComplete
)

var stateNames = map[State]string{
	StateStart:                       "start",
	StateAwaitingItem:                "awaiting_item",
	StateItemIdentified:              "item_identified",
	StateAskingDetails:               "asking_details",
	StateBlackmailCheckPrevious:      "blackmail_check_previous",
	StateBlackmailThreatSafety:       "blackmail_threat_safety",
	StateBlackmailContactAuthorities: "blackmail_contact_authorities",
	StateReview:                      "review",
	StateComplete:                    "complete",
}

func (s State) String() string { return nameOf(stateNames, s, "state") }

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) { return parseName(stateNames, name, "state") }

// Reason is the category a user picked for why the item is being reported.
type Reason int

const (
	// ReasonUnidentified is the placeholder until the user answers the
	// reason question. It is never the reason of a submitted report.
	ReasonUnidentified Reason = iota
	ReasonSuspiciousLink
	ReasonBlackmail
	ReasonHarassment
	ReasonSpam
	ReasonOther
)

// reasonLabels are the user-facing labels, also used when rendering the review.
var reasonLabels = map[Reason]string{
	ReasonUnidentified:   "unidentified",
	ReasonSuspiciousLink: "suspicious link",
	ReasonBlackmail:      "blackmail",
	ReasonHarassment:     "harassment",
	ReasonSpam:           "spam",
	ReasonOther:          "other",
}

func (r Reason) String() string { return nameOf(reasonLabels, r, "reason") }

// ParseReason maps a label produced by Reason.String back to a Reason. Unlike
// ClassifyReason it rejects unknown input.
func ParseReason(label string) (Reason, error) { return parseName(reasonLabels, label, "reason") }

// Item is the chat message being reported.
type Item struct {
	Ref     ItemRef
	Author  string
	Content string
}

func nameOf[K ~int](names map[K]string, k K, kind string) string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("%s(%d)", kind, int(k))
}

func parseName[K ~int](names map[K]string, name, kind string) (K, error) {
	for k, n := range names {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("report: unknown %s %q", kind, name)
}
