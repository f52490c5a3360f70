package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Broadcast event names. Other clients match these verbatim.
const (
	EventCorrectAnswer = "correct_answer"
	EventGameEvent     = "game_event"
	EventChatMessage   = "chat_message"
)

// game_event subtypes carried in the inner "type" field.
const (
	GameEventRoundStart    = "round_start"
	GameEventRoundAdvance  = "round_advance"
	GameEventReturnToLobby = "return_to_lobby"
	GameEventAnswered      = "answered"
)

// Envelope is the common header of every broadcast. Timestamp is unix millis
// on the sender's clock and only serves ordering in the transcript and
// duplicate suppression.
type Envelope struct {
	SenderID  string `json:"senderId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

func (e Envelope) Validate() error {
	switch {
	case strings.TrimSpace(e.SenderID) == "":
		return fmt.Errorf("%w: missing senderId", ErrMalformedBroadcast)
	case strings.TrimSpace(e.Username) == "":
		return fmt.Errorf("%w: missing username", ErrMalformedBroadcast)
	case e.Timestamp <= 0:
		return fmt.Errorf("%w: missing timestamp", ErrMalformedBroadcast)
	}
	return nil
}

// DedupeKey identifies one broadcast for receive-side duplicate suppression.
func (e Envelope) DedupeKey() string {
	return fmt.Sprintf("%s:%d", e.SenderID, e.Timestamp)
}

// CorrectAnswerPayload announces that a player scored. It deliberately has no
// field for the answer itself. Round is the round the score belongs to; zero
// means the sender did not say, and the host will not count it.
type CorrectAnswerPayload struct {
	Envelope
	Points int `json:"points"`
	Round  int `json:"round,omitempty"`
}

func (p CorrectAnswerPayload) Validate() error {
	if err := p.Envelope.Validate(); err != nil {
		return err
	}
	if p.Points < 0 {
		return fmt.Errorf("%w: negative points", ErrMalformedBroadcast)
	}
	if p.Round < 0 {
		return fmt.Errorf("%w: negative round", ErrMalformedBroadcast)
	}
	return nil
}

type ChatMessagePayload struct {
	Envelope
	Message string `json:"message"`
}

func (p ChatMessagePayload) Validate() error {
	if err := p.Envelope.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: empty chat message", ErrMalformedBroadcast)
	}
	return nil
}

// GameEventPayload is the generic game_event envelope. Content is the opaque
// per-game round payload; the coordinator only forwards it.
type GameEventPayload struct {
	Envelope
	Type        string          `json:"type"`
	Round       int             `json:"round,omitempty"`
	TotalRounds int             `json:"totalRounds,omitempty"`
	EndsAt      int64           `json:"endsAt,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (p GameEventPayload) Validate() error {
	if err := p.Envelope.Validate(); err != nil {
		return err
	}

	switch p.Type {
	case "":
		return fmt.Errorf("%w: game_event without type", ErrMalformedBroadcast)
	case GameEventRoundStart:
		if p.Round < 1 || p.EndsAt <= 0 || len(p.Content) == 0 {
			return fmt.Errorf("%w: round_start needs round, endsAt and content", ErrMalformedBroadcast)
		}
		if p.TotalRounds > 0 && p.Round > p.TotalRounds {
			return fmt.Errorf("%w: round %d of %d", ErrMalformedBroadcast, p.Round, p.TotalRounds)
		}
	case GameEventRoundAdvance:
		if p.Round < 1 {
			return fmt.Errorf("%w: round_advance needs round", ErrMalformedBroadcast)
		}
	}
	return nil
}

// DecodeBroadcast unmarshals and validates a payload in one step. Anything
// that fails is reported as ErrMalformedBroadcast so receivers can drop it.
func DecodeBroadcast[T interface{ Validate() error }](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrMalformedBroadcast)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedBroadcast, err)
	}
	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}
