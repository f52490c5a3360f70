package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRoom(t *testing.T, code, gameID string, public bool) *domain.Room {
	t.Helper()
	room, err := domain.NewRoomWithCode(code, gameID, "host", public)
	require.NoError(t, err)
	return room
}

func TestRoomRepository_CreateAndGet(t *testing.T) {
	repo := NewRoomRepository(10, time.Hour)
	ctx := context.Background()

	room := newRoom(t, "K7M2", "word-battle", false)
	require.NoError(t, repo.Create(ctx, room))

	got, err := repo.Get(ctx, "word-battle", "K7M2")
	require.NoError(t, err)
	assert.Equal(t, room.HostID, got.HostID)

	// the same code in another game is a different room
	require.NoError(t, repo.Create(ctx, newRoom(t, "K7M2", "subtitles", false)))

	_, err = repo.Get(ctx, "word-battle", "ABCD")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.ErrorIs(t, repo.Create(ctx, nil), domain.ErrInvalidInput)
}

func TestRoomRepository_CodeReuse(t *testing.T) {
	repo := NewRoomRepository(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom(t, "K7M2", "word-battle", false)))
	assert.ErrorIs(t, repo.Create(ctx, newRoom(t, "K7M2", "word-battle", false)), domain.ErrRoomAlreadyExists)

	require.NoError(t, repo.UpdateStatus(ctx, "word-battle", "K7M2", domain.RoomStatusClosed))
	assert.NoError(t, repo.Create(ctx, newRoom(t, "K7M2", "word-battle", false)))

	got, err := repo.Get(ctx, "word-battle", "K7M2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusWaiting, got.Status)
}

func TestRoomRepository_GetReturnsCopy(t *testing.T) {
	repo := NewRoomRepository(10, time.Hour)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRoom(t, "K7M2", "word-battle", false)))

	got, err := repo.Get(ctx, "word-battle", "K7M2")
	require.NoError(t, err)
	got.Status = domain.RoomStatusClosed

	again, err := repo.Get(ctx, "word-battle", "K7M2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusWaiting, again.Status)
}

func TestRoomRepository_ListPublic(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := newRoomRepository(10, time.Hour, c.Now)
	ctx := context.Background()

	for _, r := range []*domain.Room{
		newRoom(t, "AAAA", "word-battle", true),
		newRoom(t, "BBBB", "word-battle", false),
		newRoom(t, "CCCC", "word-battle", true),
		newRoom(t, "DDDD", "subtitles", true),
	} {
		require.NoError(t, repo.Create(ctx, r))
	}
	require.NoError(t, repo.UpdateStatus(ctx, "word-battle", "CCCC", domain.RoomStatusPlaying))

	rooms, err := repo.ListPublic(ctx, "word-battle")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "AAAA", rooms[0].Code)
}

func TestRoomRepository_EvictsIdleRooms(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := newRoomRepository(10, time.Minute, c.Now)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom(t, "AAAA", "word-battle", true)))
	c.Advance(2 * time.Minute)
	require.NoError(t, repo.Create(ctx, newRoom(t, "BBBB", "word-battle", true)))

	_, err := repo.Get(ctx, "word-battle", "AAAA")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomRepository_Capacity(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := newRoomRepository(2, time.Hour, c.Now)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRoom(t, "AAAA", "g", false)))
	c.Advance(time.Second)
	require.NoError(t, repo.Create(ctx, newRoom(t, "BBBB", "g", false)))
	c.Advance(time.Second)

	// touching AAAA makes BBBB the least recently used
	_, err := repo.Get(ctx, "g", "AAAA")
	require.NoError(t, err)
	c.Advance(time.Second)

	require.NoError(t, repo.Create(ctx, newRoom(t, "CCCC", "g", false)))

	_, err = repo.Get(ctx, "g", "BBBB")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = repo.Get(ctx, "g", "AAAA")
	assert.NoError(t, err)
}
