package session

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
)

// DeriveRoster turns a presence snapshot into the roster, ordered by join
// time. A key reporting several entries contributes only its most recently
// tracked one; entries whose metadata does not decode are skipped.
func DeriveRoster(state realtime.PresenceState) []domain.Member {
	roster := make([]domain.Member, 0, len(state))

	for key, entries := range state {
		var (
			best   domain.PresencePayload
			latest realtime.PresenceEntry
			found  bool
		)
		for _, entry := range entries {
			var p domain.PresencePayload
			if err := json.Unmarshal(entry.Meta, &p); err != nil || p.Validate() != nil {
				continue
			}
			if found && entry.TrackedAt.Before(latest.TrackedAt) {
				continue
			}
			best, latest, found = p, entry, true
		}
		if !found {
			continue
		}

		roster = append(roster, domain.Member{
			MemberID:       key,
			DisplayName:    best.Username,
			JoinedAt:       best.JoinedAt,
			Points:         best.Points,
			CorrectAnswers: best.CorrectAnswers,
			Streak:         best.Streak,
			Online:         true,
		})
	}

	slices.SortFunc(roster, byJoinOrder)
	return roster
}

func byJoinOrder(a, b domain.Member) int {
	if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
		return c
	}
	return strings.Compare(a.MemberID, b.MemberID)
}

// EarliestJoiner is the member host election falls back to.
func EarliestJoiner(roster []domain.Member) (domain.Member, bool) {
	if len(roster) == 0 {
		return domain.Member{}, false
	}
	return slices.MinFunc(roster, byJoinOrder), true
}

func findMember(roster []domain.Member, id string) (domain.Member, bool) {
	for _, m := range roster {
		if m.MemberID == id {
			return m, true
		}
	}
	return domain.Member{}, false
}
