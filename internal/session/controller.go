package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhasePlaying Phase = "playing"
	PhaseRanking Phase = "ranking"
	PhaseClosed  Phase = "closed"
)

// ContentSource produces the opaque per-game payload for a round. Only the
// host ever calls it.
type ContentSource[C any] interface {
	NextRound(ctx context.Context, round int) (C, error)
}

type ContentSourceFunc[C any] func(ctx context.Context, round int) (C, error)

func (f ContentSourceFunc[C]) NextRound(ctx context.Context, round int) (C, error) {
	return f(ctx, round)
}

type RoundState[C any] struct {
	Round       int
	TotalRounds int
	Content     C
	EndsAt      time.Time
}

// Transition is what the host announces after changing state locally. Type
// is one of the game_event subtypes.
type Transition[C any] struct {
	Type  string
	State RoundState[C]
}

type ControllerConfig[C any] struct {
	Host          bool
	TotalRounds   int
	RoundDuration time.Duration
	Source        ContentSource[C]
}

// Controller is the round state machine of one member. The host drives it
// through Start, Next, AdvanceEarly and End and announces the returned
// transitions; everyone else only applies what the host broadcast, or
// expires the round on its own timer.
type Controller[C any] struct {
	host        bool
	phase       Phase
	current     RoundState[C]
	totalRounds int
	duration    time.Duration
	source      ContentSource[C]
	timer       *RoundTimer
	answered    map[string]bool
}

func NewController[C any](cfg ControllerConfig[C]) *Controller[C] {
	if cfg.TotalRounds <= 0 {
		cfg.TotalRounds = 1
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 30 * time.Second
	}
	return &Controller[C]{
		host:        cfg.Host,
		phase:       PhaseWaiting,
		totalRounds: cfg.TotalRounds,
		duration:    cfg.RoundDuration,
		source:      cfg.Source,
		answered:    map[string]bool{},
	}
}

func (c *Controller[C]) IsHost() bool { return c.host }
func (c *Controller[C]) Phase() Phase { return c.phase }
func (c *Controller[C]) TotalRounds() int { return c.totalRounds }

// Current returns the active round, if one has started.
func (c *Controller[C]) Current() (RoundState[C], bool) {
	return c.current, c.current.Round > 0
}

func (c *Controller[C]) LastRound() bool {
	return c.current.Round >= c.totalRounds
}

// Promote makes this member the host, used by host failover.
func (c *Controller[C]) Promote() {
	c.host = true
}

func (c *Controller[C]) Start(ctx context.Context, now time.Time) (Transition[C], error) {
	if !c.host {
		return Transition[C]{}, ErrNotHost
	}
	if c.phase != PhaseWaiting {
		return Transition[C]{}, fmt.Errorf("%w: start in %s", ErrInvalidPhase, c.phase)
	}
	return c.begin(ctx, 1, now)
}

// Next moves from the ranking pause to the following round, or closes the
// session after the last one.
func (c *Controller[C]) Next(ctx context.Context, now time.Time) (Transition[C], error) {
	if !c.host {
		return Transition[C]{}, ErrNotHost
	}
	if c.phase != PhaseRanking {
		return Transition[C]{}, fmt.Errorf("%w: next in %s", ErrInvalidPhase, c.phase)
	}
	if c.LastRound() {
		return c.End()
	}
	return c.begin(ctx, c.current.Round+1, now)
}

// AdvanceEarly ends the current round before its deadline.
func (c *Controller[C]) AdvanceEarly() (Transition[C], error) {
	if !c.host {
		return Transition[C]{}, ErrNotHost
	}
	if c.phase != PhasePlaying {
		return Transition[C]{}, fmt.Errorf("%w: advance in %s", ErrInvalidPhase, c.phase)
	}
	c.toRanking()
	return Transition[C]{Type: domain.GameEventRoundAdvance, State: c.current}, nil
}

func (c *Controller[C]) End() (Transition[C], error) {
	if !c.host {
		return Transition[C]{}, ErrNotHost
	}
	if c.phase == PhaseClosed {
		return Transition[C]{}, fmt.Errorf("%w: already closed", ErrInvalidPhase)
	}
	c.close()
	return Transition[C]{Type: domain.GameEventReturnToLobby, State: c.current}, nil
}

func (c *Controller[C]) begin(ctx context.Context, round int, now time.Time) (Transition[C], error) {
	if c.source == nil {
		return Transition[C]{}, ErrNoContent
	}
	content, err := c.source.NextRound(ctx, round)
	if err != nil {
		return Transition[C]{}, fmt.Errorf("round %d content: %w", round, err)
	}

	c.enter(RoundState[C]{
		Round:       round,
		TotalRounds: c.totalRounds,
		Content:     content,
		EndsAt:      now.Add(c.duration).Truncate(time.Millisecond),
	})
	return Transition[C]{Type: domain.GameEventRoundStart, State: c.current}, nil
}

func (c *Controller[C]) enter(state RoundState[C]) {
	if state.Round != c.current.Round {
		c.answered = map[string]bool{}
	}
	c.timer.Stop()
	c.current = state
	c.phase = PhasePlaying
	c.timer = NewRoundTimer(state.EndsAt)
}

func (c *Controller[C]) toRanking() {
	c.timer.Stop()
	c.phase = PhaseRanking
}

func (c *Controller[C]) close() {
	c.timer.Stop()
	c.phase = PhaseClosed
}

// ApplyRoundStart adopts a round announced by the host. Round starts are
// snapshots: re-applying the same one is a no-op and an older round is
// ignored, so a member that missed a broadcast catches up on the next.
func (c *Controller[C]) ApplyRoundStart(state RoundState[C]) bool {
	if c.phase == PhaseClosed || state.Round < c.current.Round {
		return false
	}
	if state.Round == c.current.Round && state.EndsAt.Equal(c.current.EndsAt) {
		return false
	}
	if state.TotalRounds > 0 {
		c.totalRounds = state.TotalRounds
	}
	c.enter(state)
	return true
}

// ApplyAdvance ends the named round early on the host's word.
func (c *Controller[C]) ApplyAdvance(round int) bool {
	if c.phase != PhasePlaying || round != c.current.Round {
		return false
	}
	c.toRanking()
	return true
}

func (c *Controller[C]) ApplyReturnToLobby() bool {
	if c.phase == PhaseClosed {
		return false
	}
	c.close()
	return true
}

// Poll advances the round timer. When the local deadline passes, the round
// ends for this member whether or not the host said anything.
func (c *Controller[C]) Poll(now time.Time) Tick {
	if c.phase != PhasePlaying {
		return Tick{}
	}
	tick := c.timer.Poll(now)
	if tick.Cue == CueEnd {
		c.phase = PhaseRanking
	}
	return tick
}

// Remaining is the countdown value shown in the view.
func (c *Controller[C]) Remaining(now time.Time) int {
	if c.phase != PhasePlaying {
		return 0
	}
	return Remaining(c.current.EndsAt, now)
}

func (c *Controller[C]) MarkAnswered(memberID string) {
	if c.phase == PhasePlaying {
		c.answered[memberID] = true
	}
}

// ShouldAdvance reports whether every member of roster answered the current
// round. Only the host acts on it; followers always get false.
func (c *Controller[C]) ShouldAdvance(roster []domain.Member) bool {
	if !c.host || c.phase != PhasePlaying || len(roster) == 0 {
		return false
	}
	for _, m := range roster {
		if !c.answered[m.MemberID] {
			return false
		}
	}
	return true
}

// Stop cancels the round timer; later polls do nothing.
func (c *Controller[C]) Stop() {
	c.timer.Stop()
}
