package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
)

type Score struct {
	Points         int `json:"points"`
	CorrectAnswers int `json:"correctAnswers"`
	Streak         int `json:"streak"`
}

// Ledger is this member's own score. It changes synchronously; others only
// learn about it through the republished presence payload.
type Ledger struct {
	username   string
	joinedAt   time.Time
	score      Score
	lastAnswer string
}

func NewLedger(username string, joinedAt time.Time) *Ledger {
	return &Ledger{username: username, joinedAt: joinedAt}
}

func (l *Ledger) Correct(answer string, points int) Score {
	if points < 0 {
		points = 0
	}
	l.score.Points += points
	l.score.CorrectAnswers++
	l.score.Streak++
	l.lastAnswer = answer
	return l.score
}

func (l *Ledger) Miss() Score {
	l.score.Streak = 0
	return l.score
}

func (l *Ledger) Score() Score {
	return l.score
}

// LastAnswer is kept locally for the player's own screen and never sent.
func (l *Ledger) LastAnswer() string {
	return l.lastAnswer
}

func (l *Ledger) Presence() domain.PresencePayload {
	return domain.PresencePayload{
		Username:       l.username,
		Points:         l.score.Points,
		CorrectAnswers: l.score.CorrectAnswers,
		Streak:         l.score.Streak,
		JoinedAt:       l.joinedAt,
	}
}

// presencePublisher republishes presence off the caller's goroutine. Only
// the newest payload matters, so pending updates collapse into one.
type presencePublisher struct {
	track  func(ctx context.Context, meta json.RawMessage) error
	logger logging.Logger
	topic  string

	mu     sync.Mutex
	latest json.RawMessage
	wake   chan struct{}
}

func newPresencePublisher(topic string, track func(context.Context, json.RawMessage) error, logger logging.Logger) *presencePublisher {
	return &presencePublisher{
		track:  track,
		logger: logger,
		topic:  topic,
		wake:   make(chan struct{}, 1),
	}
}

func (p *presencePublisher) Publish(payload domain.PresencePayload) {
	meta, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error(logging.Realtime, logging.Presence, "encode presence", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	p.mu.Lock()
	p.latest = meta
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *presencePublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		meta := p.latest
		p.mu.Unlock()

		if err := p.track(ctx, meta); err != nil && ctx.Err() == nil {
			// The transport reports the outage through a status event; the
			// next publish or reconnect sends the current payload again.
			p.logger.Warn(logging.Realtime, logging.Presence, "track presence", map[logging.ExtraKey]any{
				logging.Topic:        p.topic,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}
