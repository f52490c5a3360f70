package session

import (
	"math"
	"time"
)

type Cue int

const (
	CueNone Cue = iota
	CueTick
	CueEnd
)

func (c Cue) String() string {
	switch c {
	case CueTick:
		return "tick"
	case CueEnd:
		return "end"
	}
	return "none"
}

const (
	firstTickCue = 6
	lastTickCue  = 1
)

// Remaining is the whole seconds left until endsAt, rounded up.
func Remaining(endsAt, now time.Time) int {
	left := endsAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

type Tick struct {
	Remaining int
	Cue       Cue
	// Active is false once the timer has ended or been stopped.
	Active bool
}

// RoundTimer counts down to an absolute deadline. Nothing is decremented:
// every poll recomputes the remaining time, so irregular polling only skips
// cues, it never drifts.
type RoundTimer struct {
	endsAt  time.Time
	last    int
	stopped bool
}

func NewRoundTimer(endsAt time.Time) *RoundTimer {
	return &RoundTimer{endsAt: endsAt, last: -1}
}

func (t *RoundTimer) EndsAt() time.Time {
	return t.endsAt
}

// Poll reports the remaining seconds and the cue for this poll. Cues fire on
// a change of the remaining value only; the end cue fires once and stops the
// timer. Polls after Stop are no-ops.
func (t *RoundTimer) Poll(now time.Time) Tick {
	if t == nil || t.stopped {
		return Tick{}
	}

	remaining := Remaining(t.endsAt, now)
	cue := CueNone
	if remaining != t.last {
		switch {
		case remaining == 0:
			cue = CueEnd
			t.stopped = true
		case remaining >= lastTickCue && remaining <= firstTickCue:
			cue = CueTick
		}
	}
	t.last = remaining

	return Tick{Remaining: remaining, Cue: cue, Active: true}
}

func (t *RoundTimer) Stop() {
	if t != nil {
		t.stopped = true
	}
}

func (t *RoundTimer) Stopped() bool {
	return t == nil || t.stopped
}
