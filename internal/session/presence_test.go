package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func meta(t *testing.T, name string, points int, joined time.Time) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(domain.PresencePayload{Username: name, Points: points, JoinedAt: joined})
	require.NoError(t, err)
	return raw
}

func TestDeriveRoster_KeepsMostRecentEntryPerKey(t *testing.T) {
	state := realtime.PresenceState{
		"a": {
			{Ref: "1", Meta: meta(t, "alice", 10, t0), TrackedAt: t0.Add(3 * time.Second)},
			{Ref: "2", Meta: meta(t, "alice", 0, t0), TrackedAt: t0.Add(1 * time.Second)},
		},
		"b": {
			{Ref: "3", Meta: meta(t, "bob", 5, t0.Add(time.Second)), TrackedAt: t0.Add(2 * time.Second)},
		},
	}

	roster := DeriveRoster(state)
	require.Len(t, roster, 2)
	assert.Equal(t, "a", roster[0].MemberID)
	assert.Equal(t, 10, roster[0].Points)
	assert.True(t, roster[0].Online)
	assert.Equal(t, "b", roster[1].MemberID)
}

func TestDeriveRoster_TieGoesToLaterEntry(t *testing.T) {
	state := realtime.PresenceState{
		"a": {
			{Ref: "1", Meta: meta(t, "alice", 1, t0), TrackedAt: t0},
			{Ref: "2", Meta: meta(t, "alice", 2, t0), TrackedAt: t0},
		},
	}
	roster := DeriveRoster(state)
	require.Len(t, roster, 1)
	assert.Equal(t, 2, roster[0].Points)
}

func TestDeriveRoster_SkipsMalformedMetadata(t *testing.T) {
	state := realtime.PresenceState{
		"a": {{Ref: "1", Meta: json.RawMessage(`{"points":"lots"}`), TrackedAt: t0}},
		"b": {{Ref: "2", Meta: json.RawMessage(`{"points":3}`), TrackedAt: t0}},
		"c": {
			{Ref: "3", Meta: meta(t, "carol", 7, t0), TrackedAt: t0},
			{Ref: "4", Meta: json.RawMessage(`not json`), TrackedAt: t0.Add(time.Second)},
		},
	}

	roster := DeriveRoster(state)
	require.Len(t, roster, 1)
	assert.Equal(t, "c", roster[0].MemberID)
	assert.Equal(t, 7, roster[0].Points)
}

func TestDeriveRoster_OrdersByJoinTime(t *testing.T) {
	state := realtime.PresenceState{
		"z": {{Ref: "1", Meta: meta(t, "zed", 0, t0), TrackedAt: t0}},
		"y": {{Ref: "2", Meta: meta(t, "yan", 0, t0.Add(-time.Minute)), TrackedAt: t0}},
		"x": {{Ref: "3", Meta: meta(t, "xia", 0, t0), TrackedAt: t0}},
	}

	roster := DeriveRoster(state)
	ids := []string{roster[0].MemberID, roster[1].MemberID, roster[2].MemberID}
	assert.Equal(t, []string{"y", "x", "z"}, ids)

	first, ok := EarliestJoiner(roster)
	require.True(t, ok)
	assert.Equal(t, "y", first.MemberID)

	_, ok = EarliestJoiner(nil)
	assert.False(t, ok)
}
