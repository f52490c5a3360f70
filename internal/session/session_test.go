package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) Create(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error {
	args := m.Called(ctx, gameID, code, status)
	return args.Error(0)
}

type player struct {
	*Session[wordRound]
	ticker *manualTicker
}

func (p *player) tick(now time.Time) {
	p.ticker.ch <- now
}

type harness struct {
	t     *testing.T
	hub   *memory.Hub
	clock *fakeClock
	dir   *MockDirectory
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:     t,
		hub:   memory.NewHub(),
		clock: &fakeClock{now: t0},
		dir:   &MockDirectory{},
	}
}

func (h *harness) options(ticker *manualTicker) Options {
	return Options{
		RoundDuration: 30 * time.Second,
		Now:           h.clock.Now,
		Tickers:       ticker,
		Directory:     h.dir,
	}
}

func (h *harness) join(req ConnectRequest[wordRound], mutate ...func(*Options)) *player {
	h.t.Helper()
	ticker := newManualTicker()
	opts := h.options(ticker)
	for _, fn := range mutate {
		fn(&opts)
	}

	if req.GameID == "" {
		req.GameID = "word-battle"
	}
	s, err := NewManager[wordRound](h.hub, opts).Connect(context.Background(), req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = s.Close(context.Background()) })

	// later joiners get later join times
	h.clock.Advance(time.Second)
	return &player{Session: s, ticker: ticker}
}

func (h *harness) room(code string, hostOpts ...func(*Options)) (a, b, c *player) {
	a = h.join(ConnectRequest[wordRound]{RoomCode: code, DisplayName: "alice", MemberID: "a", HostID: "a", TotalRounds: 2, Source: words()}, hostOpts...)
	b = h.join(ConnectRequest[wordRound]{RoomCode: code, DisplayName: "bob", MemberID: "b", HostID: "a"})
	c = h.join(ConnectRequest[wordRound]{RoomCode: code, DisplayName: "carol", MemberID: "c", HostID: "a"})

	for _, p := range []*player{a, b, c} {
		require.Eventually(h.t, func() bool { return len(p.View().Roster) == 3 }, waitFor, poll)
	}
	return a, b, c
}

func (h *harness) listen(topic string) realtime.Channel {
	h.t.Helper()
	ch, err := h.hub.Open(context.Background(), topic, realtime.ChannelOptions{PresenceKey: "observer", Buffer: 256})
	require.NoError(h.t, err)
	return ch
}

func phaseIs(p *player, phase Phase) func() bool {
	return func() bool { return p.View().Phase == phase }
}

func TestSession_FullGame(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, "word-battle", "K7M2", domain.RoomStatusPlaying).Return(nil).Once()
	h.dir.On("UpdateStatus", mock.Anything, "word-battle", "K7M2", domain.RoomStatusClosed).Return(nil).Once()

	a, b, c := h.room("K7M2")
	observer := h.listen("game:word-battle:K7M2")

	require.NoError(t, a.StartGame(context.Background()))
	start := a.View()
	assert.Equal(t, PhasePlaying, start.Phase)
	assert.Equal(t, "word-1", start.Content.Word)

	for _, p := range []*player{b, c} {
		require.Eventually(t, phaseIs(p, PhasePlaying), waitFor, poll)
		v := p.View()
		assert.Equal(t, 1, v.Round)
		assert.Equal(t, 2, v.TotalRounds)
		assert.Equal(t, "word-1", v.Content.Word)
		assert.True(t, start.EndsAt.Equal(v.EndsAt))
		assert.Equal(t, "a", v.HostID)
		assert.False(t, v.IsHost)
	}

	// t=5s: everybody is done, the host cuts the round short.
	h.clock.Advance(5 * time.Second)
	require.NoError(t, b.SubmitCorrectAnswer(context.Background(), "gato", 10))
	require.NoError(t, c.SubmitCorrectAnswer(context.Background(), "perro", 5))
	require.NoError(t, a.MarkAnswered(context.Background()))

	for _, p := range []*player{a, b, c} {
		require.Eventually(t, phaseIs(p, PhaseRanking), waitFor, poll)
	}

	require.Eventually(t, func() bool {
		board := a.View().Leaderboard
		return len(board) == 3 && board[0].MemberID == "b" && board[1].MemberID == "c" && board[2].MemberID == "a"
	}, waitFor, poll)

	require.Eventually(t, func() bool {
		for _, line := range b.View().Transcript {
			if line.Kind == LineCorrectAnswer && line.Username == "carol" && line.Points == 5 {
				return true
			}
		}
		return false
	}, waitFor, poll)

	require.NoError(t, a.NextRound(context.Background()))
	require.Eventually(t, func() bool { return b.View().Round == 2 && b.View().Phase == PhasePlaying }, waitFor, poll)

	// Nobody answers round two; everyone runs out their own clock.
	late := h.clock.Advance(31 * time.Second)
	for _, p := range []*player{a, b, c} {
		p.tick(late)
		require.Eventually(t, phaseIs(p, PhaseRanking), waitFor, poll)
	}

	require.NoError(t, a.NextRound(context.Background()))
	for _, p := range []*player{a, b, c} {
		require.Eventually(t, phaseIs(p, PhaseClosed), waitFor, poll)
	}

	require.NoError(t, a.Close(context.Background()))
	h.dir.AssertExpectations(t)

	for _, payload := range broadcasts(observer) {
		assert.NotContains(t, payload, "gato")
		assert.NotContains(t, payload, "perro")
	}
}

func TestSession_StaleAnswersDoNotEndLaterRound(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	a, b, c := h.room("K7M2")
	late := h.listen("game:word-battle:K7M2")

	require.NoError(t, a.StartGame(context.Background()))
	a.tick(h.clock.Advance(31 * time.Second))
	require.Eventually(t, phaseIs(a, PhaseRanking), waitFor, poll)
	require.NoError(t, a.NextRound(context.Background()))
	require.Equal(t, 2, a.View().Round)
	for _, p := range []*player{b, c} {
		require.Eventually(t, func() bool { return p.View().Round == 2 && p.View().Phase == PhasePlaying }, waitFor, poll)
	}

	// Round one reports from b and c arrive after round two began.
	for _, raw := range []string{
		`{"senderId":"b","username":"bob","timestamp":101,"type":"answered","round":1}`,
		`{"senderId":"c","username":"carol","timestamp":102,"type":"answered","round":1}`,
	} {
		require.NoError(t, late.Broadcast(context.Background(), domain.EventGameEvent, json.RawMessage(raw)))
	}
	require.NoError(t, late.Broadcast(context.Background(), domain.EventCorrectAnswer,
		json.RawMessage(`{"senderId":"b","username":"bob","timestamp":103,"points":10,"round":1}`)))
	require.NoError(t, late.Broadcast(context.Background(), domain.EventCorrectAnswer,
		json.RawMessage(`{"senderId":"c","username":"carol","timestamp":104,"points":5}`)))
	require.NoError(t, late.Broadcast(context.Background(), domain.EventChatMessage,
		json.RawMessage(`{"senderId":"x","username":"x","timestamp":105,"message":"flushed"}`)))

	require.Eventually(t, func() bool {
		for _, line := range a.View().Transcript {
			if line.Kind == LineChat && line.Message == "flushed" {
				return true
			}
		}
		return false
	}, waitFor, poll)

	require.NoError(t, a.MarkAnswered(context.Background()))
	assert.Never(t, phaseIs(a, PhaseRanking), 100*time.Millisecond, poll)
	assert.Equal(t, 2, a.View().Round)

	require.NoError(t, b.SubmitCorrectAnswer(context.Background(), "gato", 10))
	require.NoError(t, c.MarkAnswered(context.Background()))
	require.Eventually(t, phaseIs(a, PhaseRanking), waitFor, poll)
}

func broadcasts(ch realtime.Channel) []string {
	var out []string
	for {
		select {
		case ev := <-ch.Events():
			if ev.Kind == realtime.EventBroadcast {
				out = append(out, string(ev.Payload))
			}
		default:
			return out
		}
	}
}

func TestSession_FollowerCannotDriveRounds(t *testing.T) {
	h := newHarness(t)
	_, b, _ := h.room("K7M2")

	assert.ErrorIs(t, b.StartGame(context.Background()), ErrNotHost)
	assert.ErrorIs(t, b.EndGame(context.Background()), ErrNotHost)
	assert.ErrorIs(t, b.SubmitCorrectAnswer(context.Background(), "gato", 10), ErrInvalidPhase)
}

func TestSession_RankingPauseAdvancesAutomatically(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	a, b, _ := h.room("K7M2", func(o *Options) { o.RankingPause = 5 * time.Second })
	require.NoError(t, a.StartGame(context.Background()))
	require.Eventually(t, phaseIs(b, PhasePlaying), waitFor, poll)

	a.tick(h.clock.Advance(31 * time.Second))
	require.Eventually(t, phaseIs(a, PhaseRanking), waitFor, poll)

	a.tick(h.clock.Advance(2 * time.Second))
	assert.Equal(t, PhaseRanking, a.View().Phase)

	a.tick(h.clock.Advance(3 * time.Second))
	require.Eventually(t, func() bool { return b.View().Round == 2 }, waitFor, poll)
	assert.Equal(t, PhasePlaying, b.View().Phase)
}

func TestSession_EchoSuppressionAndChat(t *testing.T) {
	h := newHarness(t)
	a, b, _ := h.room("K7M2")

	require.NoError(t, a.SendChat(context.Background(), "hola"))
	assert.ErrorIs(t, a.SendChat(context.Background(), "   "), domain.ErrInvalidInput)

	require.Eventually(t, func() bool { return len(b.View().Transcript) == 1 }, waitFor, poll)
	assert.Equal(t, "hola", b.View().Transcript[0].Message)
	assert.Equal(t, "alice", b.View().Transcript[0].Username)

	// The sender shows its own line once, not again when the room echoes.
	assert.Len(t, a.View().Transcript, 1)
}

func TestSession_DropsMalformedBroadcasts(t *testing.T) {
	h := newHarness(t)
	_, b, _ := h.room("K7M2")
	rogue := h.listen("game:word-battle:K7M2")

	for _, raw := range []string{
		`{"type":"round_start"}`,
		`{"senderId":"x","username":"x","timestamp":1,"type":"round_start","round":1,"endsAt":1,"content":"not an object"}`,
		`garbage`,
	} {
		require.NoError(t, rogue.Broadcast(context.Background(), domain.EventGameEvent, json.RawMessage(raw)))
	}
	require.NoError(t, rogue.Broadcast(context.Background(), "mystery", json.RawMessage(`{}`)))
	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventChatMessage,
		json.RawMessage(`{"senderId":"x","username":"x","timestamp":5,"message":"still alive"}`)))

	require.Eventually(t, func() bool { return len(b.View().Transcript) == 1 }, waitFor, poll)
	assert.Equal(t, PhaseWaiting, b.View().Phase)
}

func TestSession_IgnoresRoundEventsFromNonHost(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	a, _, c := h.room("K7M2")
	rogue := h.listen("game:word-battle:K7M2")
	endsAt := h.clock.Now().Add(30 * time.Second).UnixMilli()

	seen := func(msg string) func() bool {
		return func() bool {
			for _, line := range c.View().Transcript {
				if line.Kind == LineChat && line.Message == msg {
					return true
				}
			}
			return false
		}
	}

	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventGameEvent, json.RawMessage(fmt.Sprintf(
		`{"senderId":"b","username":"bob","timestamp":201,"type":"round_start","round":1,"totalRounds":2,"endsAt":%d,"content":{"word":"rogue"}}`, endsAt))))
	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventGameEvent,
		json.RawMessage(`{"senderId":"b","username":"bob","timestamp":202,"type":"round_advance","round":1}`)))
	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventChatMessage,
		json.RawMessage(`{"senderId":"x","username":"x","timestamp":203,"message":"first"}`)))

	require.Eventually(t, seen("first"), waitFor, poll)
	assert.Equal(t, PhaseWaiting, c.View().Phase)
	assert.Equal(t, "a", c.View().HostID)

	require.NoError(t, a.StartGame(context.Background()))
	require.Eventually(t, phaseIs(c, PhasePlaying), waitFor, poll)
	assert.Equal(t, "word-1", c.View().Content.Word)

	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventGameEvent,
		json.RawMessage(`{"senderId":"b","username":"bob","timestamp":204,"type":"round_advance","round":1}`)))
	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventGameEvent,
		json.RawMessage(`{"senderId":"b","username":"bob","timestamp":205,"type":"return_to_lobby"}`)))
	require.NoError(t, rogue.Broadcast(context.Background(), domain.EventChatMessage,
		json.RawMessage(`{"senderId":"x","username":"x","timestamp":206,"message":"second"}`)))

	require.Eventually(t, seen("second"), waitFor, poll)
	v := c.View()
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.Equal(t, "word-1", v.Content.Word)
	assert.Equal(t, "a", v.HostID)
}

func TestSession_PublicRoomLocksEarliestJoinerAsHost(t *testing.T) {
	h := newHarness(t)
	first := h.join(ConnectRequest[wordRound]{DisplayName: "", MemberID: "p1", Source: words()})
	require.Eventually(t, func() bool { return len(first.View().Roster) == 1 }, waitFor, poll)
	second := h.join(ConnectRequest[wordRound]{DisplayName: "bea", MemberID: "p2", Source: words()})

	assert.Equal(t, "game:word-battle:public", first.Topic())
	for _, p := range []*player{first, second} {
		require.Eventually(t, func() bool { return p.View().HostID == "p1" }, waitFor, poll)
	}
	assert.True(t, first.View().IsHost)
	assert.False(t, second.View().IsHost)
	assert.True(t, strings.HasPrefix(first.View().DisplayName, "Player_"))
}

func TestSession_HostFailover(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, "word-battle", "K7M2", mock.Anything).Return(nil)
	failover := func(o *Options) { o.HostFailoverAfter = 2 * time.Second }

	a := h.join(ConnectRequest[wordRound]{RoomCode: "K7M2", DisplayName: "alice", MemberID: "a", HostID: "a", Source: words()}, failover)
	b := h.join(ConnectRequest[wordRound]{RoomCode: "K7M2", DisplayName: "bob", MemberID: "b", HostID: "a", Source: words()}, failover)
	c := h.join(ConnectRequest[wordRound]{RoomCode: "K7M2", DisplayName: "carol", MemberID: "c", HostID: "a", Source: words()}, failover)
	for _, p := range []*player{a, b, c} {
		require.Eventually(t, func() bool { return len(p.View().Roster) == 3 }, waitFor, poll)
	}

	require.NoError(t, a.Close(context.Background()))
	for _, p := range []*player{b, c} {
		require.Eventually(t, func() bool { return len(p.View().Roster) == 2 }, waitFor, poll)
	}

	for _, p := range []*player{b, c} {
		p.tick(h.clock.Now())
	}
	assert.Equal(t, "a", b.View().HostID)

	later := h.clock.Advance(3 * time.Second)
	for _, p := range []*player{b, c} {
		p.tick(later)
		require.Eventually(t, func() bool { return p.View().HostID == "b" }, waitFor, poll)
	}
	assert.True(t, b.View().IsHost)
	assert.False(t, c.View().IsHost)

	require.NoError(t, b.StartGame(context.Background()))
	require.Eventually(t, phaseIs(c, PhasePlaying), waitFor, poll)
}

func TestSession_NoFailoverByDefault(t *testing.T) {
	h := newHarness(t)
	a, b, _ := h.room("K7M2")

	require.NoError(t, a.Close(context.Background()))
	require.Eventually(t, func() bool { return len(b.View().Roster) == 2 }, waitFor, poll)

	b.tick(h.clock.Now())
	b.tick(h.clock.Advance(time.Hour))
	assert.Equal(t, "a", b.View().HostID)
	assert.False(t, b.View().IsHost)
}

func TestManager_SwitchingRoomsClosesPrevious(t *testing.T) {
	h := newHarness(t)
	m := NewManager[wordRound](h.hub, h.options(newManualTicker()))

	first, err := m.Connect(context.Background(), ConnectRequest[wordRound]{GameID: "word-battle", RoomCode: "K7M2", DisplayName: "ann"})
	require.NoError(t, err)

	again, err := m.Connect(context.Background(), ConnectRequest[wordRound]{GameID: "word-battle", RoomCode: "k7m2", DisplayName: "ann"})
	require.NoError(t, err)
	assert.Same(t, first, again)

	second, err := m.Connect(context.Background(), ConnectRequest[wordRound]{GameID: "word-battle", DisplayName: "ann"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.Closed())
	assert.Zero(t, h.hub.Subscribers("game:word-battle:K7M2"))
	assert.Same(t, second, m.Current())

	assert.ErrorIs(t, first.SendChat(context.Background(), "hi"), ErrSessionClosed)

	require.NoError(t, m.Close(context.Background()))
	assert.Nil(t, m.Current())
	assert.Zero(t, h.hub.Subscribers("game:word-battle:public"))
}

func TestManager_RejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	m := NewManager[wordRound](h.hub, h.options(newManualTicker()))

	_, err := m.Connect(context.Background(), ConnectRequest[wordRound]{GameID: " ", DisplayName: "ann"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = m.Connect(context.Background(), ConnectRequest[wordRound]{GameID: "word-battle", RoomCode: "K0M2"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSession_HooksRunForCuesAndPhases(t *testing.T) {
	h := newHarness(t)
	h.dir.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var mu sync.Mutex
	var cues []Cue
	var phases []Phase
	a := h.join(ConnectRequest[wordRound]{
		RoomCode:    "K7M2",
		DisplayName: "alice",
		MemberID:    "a",
		Host:        true,
		TotalRounds: 1,
		Source:      words(),
		Hooks: Hooks[wordRound]{
			OnCue: func(cue Cue, remaining int) {
				mu.Lock()
				defer mu.Unlock()
				cues = append(cues, cue)
			},
			OnPhase: func(phase Phase, round int) {
				mu.Lock()
				defer mu.Unlock()
				phases = append(phases, phase)
			},
		},
	})

	require.NoError(t, a.StartGame(context.Background()))
	started := a.View().EndsAt

	a.tick(started.Add(-5500 * time.Millisecond))
	a.tick(started.Add(-5400 * time.Millisecond))
	a.tick(started.Add(time.Second))
	a.tick(started.Add(2 * time.Second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cues) == 2
	}, waitFor, poll)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Cue{CueTick, CueEnd}, cues)
	assert.Equal(t, []Phase{PhasePlaying, PhaseRanking}, phases)
}
