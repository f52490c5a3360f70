package session

import (
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

type LineKind string

const (
	LineChat          LineKind = "chat"
	LineCorrectAnswer LineKind = "correct_answer"
)

// Line is one transcript entry. Correct-answer lines carry the points, never
// the answer.
type Line struct {
	Kind     LineKind  `json:"kind"`
	SenderID string    `json:"senderId"`
	Username string    `json:"username"`
	Message  string    `json:"message,omitempty"`
	Points   int       `json:"points,omitempty"`
	At       time.Time `json:"at"`
}

const defaultTranscriptLimit = 200

// Transcript is the visible chat log. Delivery is unordered and may repeat,
// so lines are deduplicated by sender and timestamp before being appended.
type Transcript struct {
	limit int
	lines []Line
	seen  map[string]struct{}
	keys  []string
}

func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = defaultTranscriptLimit
	}
	return &Transcript{limit: limit, seen: map[string]struct{}{}}
}

// Add appends line unless env was seen before and reports whether it did.
func (t *Transcript) Add(env domain.Envelope, line Line) bool {
	key := string(line.Kind) + "|" + env.DedupeKey()
	if _, dup := t.seen[key]; dup {
		return false
	}

	t.seen[key] = struct{}{}
	t.keys = append(t.keys, key)
	t.lines = append(t.lines, line)

	if len(t.lines) > t.limit {
		drop := len(t.lines) - t.limit
		for _, k := range t.keys[:drop] {
			delete(t.seen, k)
		}
		t.keys = append([]string(nil), t.keys[drop:]...)
		t.lines = append([]Line(nil), t.lines[drop:]...)
	}
	return true
}

func (t *Transcript) Lines() []Line {
	return append([]Line(nil), t.lines...)
}

func chatLine(p domain.ChatMessagePayload) Line {
	return Line{
		Kind:     LineChat,
		SenderID: p.SenderID,
		Username: p.Username,
		Message:  p.Message,
		At:       time.UnixMilli(p.Timestamp),
	}
}

func correctAnswerLine(p domain.CorrectAnswerPayload) Line {
	return Line{
		Kind:     LineCorrectAnswer,
		SenderID: p.SenderID,
		Username: p.Username,
		Points:   p.Points,
		At:       time.UnixMilli(p.Timestamp),
	}
}
