package session

import (
	"context"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
)

// TickerCreator hands out periodic tick channels. The returned func stops
// the ticker.
type TickerCreator interface {
	Create(d time.Duration) (<-chan time.Time, func())
}

type systemTickers struct{}

func (systemTickers) Create(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// RoomStatusUpdater is the slice of the room directory a host session writes.
type RoomStatusUpdater interface {
	UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error
}

type Options struct {
	RoundDuration time.Duration
	// RankingPause is how long the host shows the scoreboard before moving
	// on. Zero means NextRound has to be called explicitly.
	RankingPause time.Duration
	TickInterval time.Duration
	// HostFailoverAfter enables host election once the host has been absent
	// from presence for this long. Zero keeps followers waiting on their own
	// timers.
	HostFailoverAfter time.Duration
	EventBuffer       int
	OutboxSize        int
	TranscriptLimit   int

	Now       func() time.Time
	Tickers   TickerCreator
	Directory RoomStatusUpdater
	Logger    logging.Logger
}

func (o Options) withDefaults() Options {
	if o.RoundDuration <= 0 {
		o.RoundDuration = 30 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 250 * time.Millisecond
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Tickers == nil {
		o.Tickers = systemTickers{}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Hooks are called on the session's event loop. They must not call session
// commands, which wait on that same loop.
type Hooks[C any] struct {
	OnRoster        func(roster []domain.Member)
	OnPhase         func(phase Phase, round int)
	OnRoundStart    func(state RoundState[C])
	OnCue           func(cue Cue, remaining int)
	OnChat          func(line Line)
	OnCorrectAnswer func(line Line)
	OnGameEvent     func(event domain.GameEventPayload)
	OnConnection    func(connected bool)
	OnHostChange    func(hostID string)
}

type ConnectRequest[C any] struct {
	GameID string
	// RoomCode is empty for the quick-play pool.
	RoomCode    string
	DisplayName string
	// MemberID is the presence key; a fresh one is generated when empty.
	MemberID string
	// HostID is the room's host as recorded by the directory.
	HostID      string
	Host        bool
	TotalRounds int
	Source      ContentSource[C]
	Hooks       Hooks[C]
}
