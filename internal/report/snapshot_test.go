package report

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_ResumeMidBlackmail(t *testing.T) {
	f := newFetcher()
	s := NewSession(f)
	drive(t, s, "report", aliceLink, "blackmail", "yes")

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored, err := Restore(snap, f)
	require.NoError(t, err)
	assert.Equal(t, StateBlackmailThreatSafety, restored.State())
	assert.Equal(t, ReasonBlackmail, restored.Reason())
	require.NotNil(t, restored.Item())
	assert.Equal(t, "alice", restored.Item().Author)

	lines := drive(t, restored, "no", "no")
	assert.Contains(t, lines, "Previous Blackmail: true")
	assert.Contains(t, lines, "Threat to Safety: false")
	assert.Contains(t, lines, "Contacted Authorities: false")
}

func TestSnapshot_JSONShape(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report", aliceLink, "spam", "50 messages")

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "review", raw["state"])
	assert.Equal(t, "spam", raw["reason"])

	details := raw["details"].(map[string]interface{})
	assert.Equal(t, DetailsKindGeneric, details["kind"])
	assert.Equal(t, "50 messages", details["text"])

	item := raw["item"].(map[string]interface{})
	assert.Equal(t, float64(999), item["guild_id"])
	assert.Equal(t, "alice", item["author"])
}

func TestSnapshot_FreshSessionHasNoDetails(t *testing.T) {
	snap := NewSession(nil).Snapshot()
	assert.Equal(t, "start", snap.State)
	assert.Equal(t, "unidentified", snap.Reason)
	assert.Nil(t, snap.Details)
	assert.Nil(t, snap.Item)
}

func TestRestore_RejectsUnknownValues(t *testing.T) {
	_, err := Restore(Snapshot{State: "nowhere", Reason: "spam"}, nil)
	assert.Error(t, err)

	_, err = Restore(Snapshot{State: "review", Reason: "nonsense"}, nil)
	assert.Error(t, err)

	_, err = Restore(Snapshot{State: "review", Reason: "spam", Details: &DetailsSnapshot{Kind: "poem"}}, nil)
	assert.Error(t, err)
}

func TestRestore_RejectsStateWithoutItsAnswers(t *testing.T) {
	yes := true
	item := &ItemSnapshot{ItemRef: ItemRef{999, 111, 222}, Author: "alice", Content: "hi"}
	generic := &DetailsSnapshot{Kind: DetailsKindGeneric, Text: "50 messages"}
	partial := &DetailsSnapshot{Kind: DetailsKindBlackmail, PreviousBlackmail: &yes}
	full := &DetailsSnapshot{Kind: DetailsKindBlackmail, PreviousBlackmail: &yes, ThreatToSafety: &yes, ContactedAuthorities: &yes}

	tests := []struct {
		name string
		snap Snapshot
		ok   bool
	}{
		{"awaiting item", Snapshot{State: "awaiting_item", Reason: "unidentified"}, true},
		{"identified without item", Snapshot{State: "item_identified", Reason: "unidentified"}, false},
		{"identified", Snapshot{State: "item_identified", Reason: "unidentified", Item: item}, true},
		{"details without reason", Snapshot{State: "asking_details", Reason: "unidentified", Item: item}, false},
		{"details", Snapshot{State: "asking_details", Reason: "spam", Item: item}, true},
		{"blackmail without answers", Snapshot{State: "blackmail_check_previous", Reason: "blackmail", Item: item}, false},
		{"threat question", Snapshot{State: "blackmail_threat_safety", Reason: "blackmail", Item: item, Details: partial}, true},
		{"authorities skipping threat", Snapshot{State: "blackmail_contact_authorities", Reason: "blackmail", Item: item, Details: partial}, false},
		{"review without details", Snapshot{State: "review", Reason: "spam", Item: item}, false},
		{"review without item", Snapshot{State: "review", Reason: "spam", Details: generic}, false},
		{"review with partial blackmail", Snapshot{State: "review", Reason: "blackmail", Item: item, Details: partial}, false},
		{"review with wrong details kind", Snapshot{State: "review", Reason: "spam", Item: item, Details: full}, false},
		{"review generic", Snapshot{State: "review", Reason: "spam", Item: item, Details: generic}, true},
		{"review blackmail", Snapshot{State: "review", Reason: "blackmail", Item: item, Details: full}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Restore(tt.snap, nil)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSubmittedEvent(t *testing.T) {
	s := NewSession(newFetcher())
	drive(t, s, "report", aliceLink, "blackmail", "no", "yes", "no", "yes")

	sub, ok := s.Submission()
	require.True(t, ok)
	sub.ID = "r-1"
	sub.ReporterID = "u-1"

	ev := sub.Event()
	assert.Equal(t, "r-1", ev.ReportID)
	assert.Equal(t, "blackmail", ev.Reason)
	assert.Equal(t, "hi", ev.Item.Content)
	assert.True(t, ev.ThreatToSafety())

	ctx := context.Background()
	other := NewSession(newFetcher())
	for _, m := range []string{"report", aliceLink, "spam", "x", "yes"} {
		other.HandleMessage(ctx, m)
	}
	sub, ok = other.Submission()
	require.True(t, ok)
	assert.False(t, sub.Event().ThreatToSafety())
}
