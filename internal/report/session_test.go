package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves items from a map keyed by ItemRef.
type fakeFetcher struct {
	items map[ItemRef]Item
	err   error
	calls int
}

func (f *fakeFetcher) FetchItem(_ context.Context, ref ItemRef) (Item, error) {
	f.calls++
	if f.err != nil {
		return Item{}, f.err
	}
	item, ok := f.items[ref]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

const aliceLink = "https://chat.example/999/111/222"

func newFetcher() *fakeFetcher {
	return &fakeFetcher{items: map[ItemRef]Item{
		{GuildID: 999, ChannelID: 111, MessageID: 222}: {Author: "alice", Content: "hi"},
		{GuildID: 1, ChannelID: 2, MessageID: 3}:       {Author: "bob", Content: "pay up"},
	}}
}

// drive sends each message in order and returns the reply of the last one.
func drive(t *testing.T, s *Session, msgs ...string) []string {
	t.Helper()
	var lines []string
	for _, m := range msgs {
		lines = s.HandleMessage(context.Background(), m)
	}
	return lines
}

func TestNewSession(t *testing.T) {
	s := NewSession(newFetcher())
	assert.Equal(t, StateStart, s.State())
	assert.Equal(t, ReasonUnidentified, s.Reason())
	assert.Nil(t, s.Details())
	assert.Nil(t, s.Item())
	assert.False(t, s.IsComplete())
}

func TestHandleMessage_CancelFromEveryState(t *testing.T) {
	prefixes := map[State][]string{
		StateStart:                       {},
		StateAwaitingItem:                {"report"},
		StateItemIdentified:              {"report", aliceLink},
		StateAskingDetails:               {"report", aliceLink, "spam"},
		StateBlackmailCheckPrevious:      {"report", aliceLink, "blackmail"},
		StateBlackmailThreatSafety:       {"report", aliceLink, "blackmail", "yes"},
		StateBlackmailContactAuthorities: {"report", aliceLink, "blackmail", "yes", "no"},
		StateReview:                      {"report", aliceLink, "spam", "lots"},
	}

	for state, prefix := range prefixes {
		for _, keyword := range []string{"cancel", "CANCEL", "Cancel"} {
			t.Run(state.String()+"/"+keyword, func(t *testing.T) {
				s := NewSession(newFetcher())
				drive(t, s, prefix...)
				require.Equal(t, state, s.State())

				lines := s.HandleMessage(context.Background(), keyword)
				assert.Equal(t, []string{msgCancelled}, lines)
				assert.True(t, s.IsComplete())
				assert.False(t, s.Submitted())
			})
		}
	}
}

func TestHandleMessage_HelpKeepsState(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report", aliceLink)
	require.Equal(t, StateItemIdentified, s.State())

	for _, keyword := range []string{"help", "HELP"} {
		lines := s.HandleMessage(context.Background(), keyword)
		assert.Equal(t, []string{msgHelp}, lines)
		assert.Equal(t, StateItemIdentified, s.State())
	}
}

func TestHandleMessage_KeywordsAreNotTrimmed(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report")

	lines := s.HandleMessage(context.Background(), " cancel ")
	assert.Equal(t, []string{msgInvalidLink}, lines)
	assert.False(t, s.IsComplete())
}

func TestHandleMessage_GenericFlow(t *testing.T) {
	f := newFetcher()
	s := NewSession(f)

	lines := s.HandleMessage(context.Background(), "report")
	assert.Equal(t, []string{msgStart}, lines)
	assert.Equal(t, StateAwaitingItem, s.State())

	lines = s.HandleMessage(context.Background(), "look at this "+aliceLink+" please")
	require.Len(t, lines, 3)
	assert.Equal(t, msgItemFound, lines[0])
	assert.Equal(t, "```alice: hi```", lines[1])
	assert.Equal(t, msgAskReason, lines[2])
	assert.Equal(t, StateItemIdentified, s.State())
	require.NotNil(t, s.Item())
	assert.Equal(t, ItemRef{GuildID: 999, ChannelID: 111, MessageID: 222}, s.Item().Ref)

	lines = s.HandleMessage(context.Background(), "spam")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "about the spam?")
	assert.Equal(t, StateAskingDetails, s.State())
	assert.Equal(t, ReasonSpam, s.Reason())
	assert.Nil(t, s.Details())

	lines = s.HandleMessage(context.Background(), "got 50 messages")
	assert.Equal(t, StateReview, s.State())
	review := strings.Join(lines, "\n")
	assert.Contains(t, review, "Reason: spam")
	assert.Contains(t, review, "Details: got 50 messages")
	assert.Equal(t, msgReview, lines[0])
	assert.Equal(t, msgConfirm, lines[len(lines)-1])

	lines = s.HandleMessage(context.Background(), "yes")
	assert.Equal(t, []string{msgSubmitted}, lines)
	assert.True(t, s.IsComplete())
	assert.True(t, s.Submitted())

	sub, ok := s.Submission()
	require.True(t, ok)
	assert.Equal(t, ReasonSpam, sub.Reason)
	assert.Equal(t, GenericDetails{Text: "got 50 messages"}, sub.Details)
	assert.Equal(t, "alice", sub.Item.Author)
	assert.Equal(t, 1, f.calls)
}

func TestHandleMessage_UnknownReasonEchoesRawText(t *testing.T) {
	s := NewSession(newFetcher())
	lines := drive(t, s, "report", aliceLink, "  Weird Stuff ")

	assert.Equal(t, ReasonOther, s.Reason())
	assert.Equal(t, StateAskingDetails, s.State())
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "What details can you provide about the weird stuff?"))

	lines = drive(t, s, "details")
	assert.Contains(t, lines, "Reason: other")
}

func TestHandleMessage_BlackmailFlowRejectedAtReview(t *testing.T) {
	f := newFetcher()
	s := NewSession(f)

	lines := drive(t, s, "report", aliceLink, "Blackmail")
	assert.Equal(t, []string{msgAskPrevious}, lines)
	assert.Equal(t, StateBlackmailCheckPrevious, s.State())
	assert.Equal(t, ReasonBlackmail, s.Reason())

	lines = drive(t, s, "yes")
	assert.Equal(t, []string{msgAskThreat}, lines)
	assert.Equal(t, StateBlackmailThreatSafety, s.State())

	lines = drive(t, s, "no")
	assert.Equal(t, []string{msgAskAuthority}, lines)
	assert.Equal(t, StateBlackmailContactAuthorities, s.State())

	lines = drive(t, s, "Y")
	assert.Equal(t, StateReview, s.State())
	assert.Equal(t, []string{
		msgReview,
		"Reason: blackmail",
		"Previous Blackmail: true",
		"Threat to Safety: false",
		"Contacted Authorities: true",
		msgConfirm,
	}, lines)

	bd, ok := s.Details().(*BlackmailDetails)
	require.True(t, ok)
	require.True(t, bd.Complete())
	assert.True(t, *bd.PreviousBlackmail)
	assert.False(t, *bd.ThreatToSafety)
	assert.True(t, *bd.ContactedAuthorities)

	lines = drive(t, s, "no")
	assert.Equal(t, []string{msgStartOver}, lines)
	assert.Equal(t, StateStart, s.State())
	assert.False(t, s.IsComplete())
	assert.Equal(t, ReasonUnidentified, s.Reason())
	assert.Nil(t, s.Details())
	assert.Nil(t, s.Item())
	_, ok = s.Submission()
	assert.False(t, ok)

	// The flow restarts fully with a fresh link.
	lines = drive(t, s, "again")
	assert.Equal(t, []string{msgStart}, lines)
	lines = drive(t, s, "https://chat.example/1/2/3")
	require.Len(t, lines, 3)
	assert.Equal(t, "```bob: pay up```", lines[1])
	drive(t, s, "harassment", "keeps messaging me", "yes")
	assert.True(t, s.IsComplete())

	sub, ok := s.Submission()
	require.True(t, ok)
	assert.Equal(t, ReasonHarassment, sub.Reason)
	assert.Equal(t, "bob", sub.Item.Author)
}

func TestHandleMessage_MalformedYesNoIsNo(t *testing.T) {
	s := NewSession(newFetcher())
	lines := drive(t, s, "report", aliceLink, "blackmail", "maybe", "yes please", "YES")

	assert.Contains(t, lines, "Previous Blackmail: false")
	assert.Contains(t, lines, "Threat to Safety: false")
	assert.Contains(t, lines, "Contacted Authorities: true")
}

func TestHandleMessage_CompleteIsInert(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report", aliceLink, "spam", "details", "y")
	require.True(t, s.IsComplete())
	before := s.Snapshot()

	for _, msg := range []string{"report", "cancel", "help", aliceLink, "yes"} {
		assert.Empty(t, s.HandleMessage(context.Background(), msg))
	}
	assert.Equal(t, before, s.Snapshot())
}

func TestHandleMessage_InvalidLink(t *testing.T) {
	f := newFetcher()
	s := NewSession(f)
	drive(t, s, "report")

	for _, msg := range []string{"not a link", "https://chat.example/999/111", "/a/b/c"} {
		lines := s.HandleMessage(context.Background(), msg)
		assert.Equal(t, []string{msgInvalidLink}, lines)
		assert.Equal(t, StateAwaitingItem, s.State())
	}
	assert.Zero(t, f.calls)
}

func TestHandleMessage_NotFoundThenFound(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report")

	lines := s.HandleMessage(context.Background(), "https://chat.example/5/5/5")
	assert.Equal(t, []string{msgNotFound}, lines)
	assert.Equal(t, StateAwaitingItem, s.State())
	assert.Nil(t, s.Item())

	lines = s.HandleMessage(context.Background(), aliceLink)
	require.Len(t, lines, 3)
	assert.Equal(t, StateItemIdentified, s.State())
}

func TestHandleMessage_OversizedIDsAreNotFound(t *testing.T) {
	f := newFetcher()
	s := NewSession(f)
	drive(t, s, "report")

	lines := s.HandleMessage(context.Background(), "https://chat.example/99999999999999999999/1/2 and "+aliceLink)
	assert.Equal(t, []string{msgNotFound}, lines)
	assert.Equal(t, StateAwaitingItem, s.State())
	assert.Zero(t, f.calls)
}

func TestHandleMessage_FetchErrorTreatedAsNotFound(t *testing.T) {
	f := newFetcher()
	f.err = errors.New("connection refused")
	s := NewSession(f)
	drive(t, s, "report")

	lines := s.HandleMessage(context.Background(), aliceLink)
	assert.Equal(t, []string{msgNotFound}, lines)
	assert.Equal(t, StateAwaitingItem, s.State())
}

func TestSubmission_CancelledHasNone(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report", aliceLink, "spam", "details", "cancel")
	require.True(t, s.IsComplete())

	_, ok := s.Submission()
	assert.False(t, ok)
}
