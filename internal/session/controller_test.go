package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type wordRound struct {
	Word string `json:"word"`
}

type MockContentSource struct {
	mock.Mock
}

func (m *MockContentSource) NextRound(ctx context.Context, round int) (wordRound, error) {
	args := m.Called(ctx, round)
	return args.Get(0).(wordRound), args.Error(1)
}

func words() ContentSource[wordRound] {
	return ContentSourceFunc[wordRound](func(ctx context.Context, round int) (wordRound, error) {
		return wordRound{Word: fmt.Sprintf("word-%d", round)}, nil
	})
}

func roster(ids ...string) []domain.Member {
	out := make([]domain.Member, len(ids))
	for i, id := range ids {
		out[i] = domain.Member{MemberID: id, JoinedAt: t0.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestController_OnlyHostDrivesRounds(t *testing.T) {
	follower := NewController(ControllerConfig[wordRound]{TotalRounds: 3, Source: words()})

	_, err := follower.Start(context.Background(), t0)
	assert.ErrorIs(t, err, ErrNotHost)
	_, err = follower.Next(context.Background(), t0)
	assert.ErrorIs(t, err, ErrNotHost)
	_, err = follower.AdvanceEarly()
	assert.ErrorIs(t, err, ErrNotHost)
	_, err = follower.End()
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, PhaseWaiting, follower.Phase())
}

func TestController_HostLifecycle(t *testing.T) {
	source := &MockContentSource{}
	source.On("NextRound", mock.Anything, 1).Return(wordRound{Word: "gato"}, nil).Once()
	source.On("NextRound", mock.Anything, 2).Return(wordRound{Word: "perro"}, nil).Once()

	host := NewController(ControllerConfig[wordRound]{
		Host:          true,
		TotalRounds:   2,
		RoundDuration: 30 * time.Second,
		Source:        source,
	})

	tr, err := host.Start(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, domain.GameEventRoundStart, tr.Type)
	assert.Equal(t, 1, tr.State.Round)
	assert.Equal(t, "gato", tr.State.Content.Word)
	assert.Equal(t, t0.Add(30*time.Second), tr.State.EndsAt)
	assert.Equal(t, PhasePlaying, host.Phase())

	_, err = host.Start(context.Background(), t0)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	_, err = host.Next(context.Background(), t0)
	assert.ErrorIs(t, err, ErrInvalidPhase)

	tick := host.Poll(t0.Add(31 * time.Second))
	assert.Equal(t, CueEnd, tick.Cue)
	assert.Equal(t, PhaseRanking, host.Phase())

	tr, err = host.Next(context.Background(), t0.Add(40*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.State.Round)
	assert.True(t, host.LastRound())

	tr, err = host.AdvanceEarly()
	require.NoError(t, err)
	assert.Equal(t, domain.GameEventRoundAdvance, tr.Type)
	assert.Equal(t, PhaseRanking, host.Phase())

	tr, err = host.Next(context.Background(), t0.Add(50*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.GameEventReturnToLobby, tr.Type)
	assert.Equal(t, PhaseClosed, host.Phase())

	source.AssertExpectations(t)
}

func TestController_ContentFailureKeepsPhase(t *testing.T) {
	source := &MockContentSource{}
	source.On("NextRound", mock.Anything, 1).Return(wordRound{}, errors.New("no words")).Once()

	host := NewController(ControllerConfig[wordRound]{Host: true, Source: source})
	_, err := host.Start(context.Background(), t0)
	assert.Error(t, err)
	assert.Equal(t, PhaseWaiting, host.Phase())

	noSource := NewController(ControllerConfig[wordRound]{Host: true})
	_, err = noSource.Start(context.Background(), t0)
	assert.ErrorIs(t, err, ErrNoContent)
}

// Three members are playing a 30s round. At t=5s everyone has answered:
// the host advances and the followers follow on its broadcast, while a
// follower's own detection changes nothing.
func TestController_EarlyAdvanceIsHostOnly(t *testing.T) {
	members := roster("a", "b", "c")

	host := NewController(ControllerConfig[wordRound]{Host: true, TotalRounds: 3, Source: words()})
	b := NewController(ControllerConfig[wordRound]{TotalRounds: 3})
	c := NewController(ControllerConfig[wordRound]{TotalRounds: 3})

	tr, err := host.Start(context.Background(), t0)
	require.NoError(t, err)
	require.True(t, b.ApplyRoundStart(tr.State))
	require.True(t, c.ApplyRoundStart(tr.State))

	at5s := t0.Add(5 * time.Second)
	for _, ctrl := range []*Controller[wordRound]{host, b, c} {
		for _, m := range members {
			ctrl.MarkAnswered(m.MemberID)
		}
		ctrl.Poll(at5s)
	}

	assert.False(t, b.ShouldAdvance(members))
	assert.False(t, c.ShouldAdvance(members))
	assert.Equal(t, PhasePlaying, b.Phase())
	assert.Equal(t, PhasePlaying, c.Phase())

	require.True(t, host.ShouldAdvance(members))
	adv, err := host.AdvanceEarly()
	require.NoError(t, err)

	assert.True(t, b.ApplyAdvance(adv.State.Round))
	assert.True(t, c.ApplyAdvance(adv.State.Round))
	assert.Equal(t, PhaseRanking, b.Phase())
	assert.Equal(t, PhaseRanking, c.Phase())
}

func TestController_ShouldAdvanceNeedsEveryone(t *testing.T) {
	host := NewController(ControllerConfig[wordRound]{Host: true, Source: words()})
	_, err := host.Start(context.Background(), t0)
	require.NoError(t, err)

	host.MarkAnswered("a")
	host.MarkAnswered("b")
	assert.False(t, host.ShouldAdvance(roster("a", "b", "c")))
	assert.True(t, host.ShouldAdvance(roster("a", "b")))
	assert.False(t, host.ShouldAdvance(nil))
}

func TestController_FollowerExpiresOnOwnTimer(t *testing.T) {
	follower := NewController(ControllerConfig[wordRound]{})
	follower.ApplyRoundStart(RoundState[wordRound]{Round: 1, TotalRounds: 2, Content: wordRound{"gato"}, EndsAt: t0.Add(30 * time.Second)})

	assert.Equal(t, CueNone, follower.Poll(t0.Add(29*time.Second)).Cue)
	assert.Equal(t, PhasePlaying, follower.Phase())
	assert.Equal(t, CueEnd, follower.Poll(t0.Add(31*time.Second)).Cue)
	assert.Equal(t, PhaseRanking, follower.Phase())
	assert.Equal(t, 2, follower.TotalRounds())
}

func TestController_ApplyRoundStartIsIdempotent(t *testing.T) {
	follower := NewController(ControllerConfig[wordRound]{TotalRounds: 3})
	round2 := RoundState[wordRound]{Round: 2, TotalRounds: 3, Content: wordRound{"dos"}, EndsAt: t0.Add(time.Minute)}

	// Round 1 was missed; round 2 still syncs.
	assert.True(t, follower.ApplyRoundStart(round2))
	assert.False(t, follower.ApplyRoundStart(round2))

	round1 := RoundState[wordRound]{Round: 1, TotalRounds: 3, Content: wordRound{"uno"}, EndsAt: t0}
	assert.False(t, follower.ApplyRoundStart(round1))

	state, ok := follower.Current()
	require.True(t, ok)
	assert.Equal(t, "dos", state.Content.Word)

	assert.False(t, follower.ApplyAdvance(1))
	assert.True(t, follower.ApplyAdvance(2))
	assert.False(t, follower.ApplyAdvance(2))

	assert.True(t, follower.ApplyReturnToLobby())
	assert.False(t, follower.ApplyReturnToLobby())
	assert.False(t, follower.ApplyRoundStart(RoundState[wordRound]{Round: 3, EndsAt: t0}))
}
