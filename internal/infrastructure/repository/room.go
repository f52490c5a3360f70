package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

type roomRepository struct {
	rooms          map[string]*domain.Room // gameID/code -> Room
	lastAccess     map[string]time.Time    // gameID/code -> last access time
	capacity       uint
	idleRoomExpiry time.Duration
	now            func() time.Time
	mu             *sync.RWMutex
}

// NewRoomRepository keeps rooms in memory. Rooms idle for longer than
// idleRoomExpiry are forgotten, and past capacity the least recently used
// room goes first.
func NewRoomRepository(capacity uint, idleRoomExpiry time.Duration) domain.RoomRepository {
	return newRoomRepository(capacity, idleRoomExpiry, time.Now)
}

func newRoomRepository(capacity uint, idleRoomExpiry time.Duration, now func() time.Time) *roomRepository {
	if capacity == 0 {
		capacity = 100
	}
	if idleRoomExpiry == 0 {
		idleRoomExpiry = 30 * time.Minute
	}

	return &roomRepository{
		rooms:          make(map[string]*domain.Room),
		lastAccess:     make(map[string]time.Time),
		capacity:       capacity,
		idleRoomExpiry: idleRoomExpiry,
		now:            now,
		mu:             &sync.RWMutex{},
	}
}

func roomKey(gameID, code string) string {
	return gameID + "/" + code
}

func (r *roomRepository) touch(key string) {
	r.lastAccess[key] = r.now()
}

func (r *roomRepository) evictIdle() {
	cutoff := r.now().Add(-r.idleRoomExpiry)
	for key, last := range r.lastAccess {
		if last.Before(cutoff) {
			delete(r.rooms, key)
			delete(r.lastAccess, key)
		}
	}
}

// enforceCapacity makes room for one more by dropping the least recently
// accessed rooms.
func (r *roomRepository) enforceCapacity() {
	excess := len(r.rooms) - int(r.capacity) + 1
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(r.lastAccess))
	for key := range r.lastAccess {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return r.lastAccess[a].Compare(r.lastAccess[b])
	})

	for _, key := range keys[:excess] {
		delete(r.rooms, key)
		delete(r.lastAccess, key)
	}
}

// Create stores room unless its code is live for the same game. A closed
// room's code can be handed out again.
func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	if room == nil || room.GameID == "" || room.Code == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictIdle()

	key := roomKey(room.GameID, room.Code)
	if existing, exists := r.rooms[key]; exists && existing.Active() {
		return domain.ErrRoomAlreadyExists
	}

	if _, exists := r.rooms[key]; !exists {
		r.enforceCapacity()
	}

	stored := *room
	r.rooms[key] = &stored
	r.touch(key)

	return nil
}

// Get returns a copy of the room and updates its access time.
func (r *roomRepository) Get(ctx context.Context, gameID, code string) (*domain.Room, error) {
	if gameID == "" || code == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := roomKey(gameID, code)
	room, exists := r.rooms[key]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	r.touch(key)

	found := *room
	return &found, nil
}

func (r *roomRepository) UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := roomKey(gameID, code)
	room, exists := r.rooms[key]
	if !exists {
		return domain.ErrRoomNotFound
	}

	room.Status = status
	room.UpdatedAt = r.now().UTC()
	r.touch(key)

	return nil
}

func (r *roomRepository) ListPublic(ctx context.Context, gameID string) ([]domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictIdle()

	rooms := []domain.Room{}
	for _, room := range r.rooms {
		if room.GameID == gameID && room.Settings.IsPublic && room.Status == domain.RoomStatusWaiting {
			rooms = append(rooms, *room)
		}
	}
	slices.SortFunc(rooms, func(a, b domain.Room) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return rooms, nil
}
