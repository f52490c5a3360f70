package realtime

import (
	"maps"
	"slices"
)

// Diff compares two presence snapshots and returns the join and leave events
// that turn prev into next. A key whose entries changed counts as a join.
func Diff(prev, next PresenceState) []Event {
	var events []Event
	for _, key := range slices.Sorted(maps.Keys(next)) {
		entries := next[key]
		old, ok := prev[key]
		if ok && sameRefs(old, entries) {
			continue
		}
		events = append(events, Event{Kind: EventJoin, Key: key, Entries: entries})
	}
	for _, key := range slices.Sorted(maps.Keys(prev)) {
		if _, ok := next[key]; !ok {
			events = append(events, Event{Kind: EventLeave, Key: key, Entries: prev[key]})
		}
	}
	return events
}

func sameRefs(a, b []PresenceEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Ref != b[i].Ref || !a[i].TrackedAt.Equal(b[i].TrackedAt) {
			return false
		}
	}
	return true
}
