package session

import (
	"slices"

	"github.com/hilthontt/roomsync/internal/domain"
)

type Standing struct {
	domain.Member
	Rank int `json:"rank"`
}

// Leaderboard ranks members by points, earlier joiners first on a tie. The
// order is total so the same roster always ranks the same way.
func Leaderboard(members []domain.Member) []Standing {
	sorted := slices.Clone(members)
	slices.SortStableFunc(sorted, func(a, b domain.Member) int {
		if a.Points != b.Points {
			if a.Points > b.Points {
				return -1
			}
			return 1
		}
		return byJoinOrder(a, b)
	})

	standings := make([]Standing, len(sorted))
	for i, m := range sorted {
		standings[i] = Standing{Member: m, Rank: i + 1}
	}
	return standings
}
