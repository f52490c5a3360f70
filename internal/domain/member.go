package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Member is derived from presence; it never outlives the channel subscription.
type Member struct {
	MemberID       string    `json:"memberId"`
	DisplayName    string    `json:"displayName"`
	JoinedAt       time.Time `json:"joinedAt"`
	Points         int       `json:"points"`
	CorrectAnswers int       `json:"correctAnswers"`
	Streak         int       `json:"streak"`
	Online         bool      `json:"online"`
}

// PresencePayload is the metadata every member publishes on its channel.
// Field names are shared with other clients and must not change.
type PresencePayload struct {
	Username       string    `json:"username"`
	Points         int       `json:"points"`
	CorrectAnswers int       `json:"correctAnswers"`
	Streak         int       `json:"streak"`
	JoinedAt       time.Time `json:"joinedAt"`
}

func (p PresencePayload) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: presence without username", ErrMalformedBroadcast)
	}
	if p.JoinedAt.IsZero() {
		return fmt.Errorf("%w: presence without joinedAt", ErrMalformedBroadcast)
	}
	return nil
}

// PlaceholderName is substituted when a player connects without a name.
func PlaceholderName() string {
	return fmt.Sprintf("Player_%04d", rand.IntN(10000))
}

func DisplayNameOrPlaceholder(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return PlaceholderName()
	}
	return name
}
