package ws

import (
	"maps"
	"slices"
	"sync"
)

// RoomManager tracks the sockets open on each topic of this node.
type RoomManager struct {
	rooms map[string]map[string]*Client // topic -> client id -> client
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]map[string]*Client),
	}
}

func (rm *RoomManager) AddClient(cl *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[cl.Topic]
	if !ok {
		room = make(map[string]*Client)
		rm.rooms[cl.Topic] = room
	}
	room[cl.ID] = cl
}

// RemoveClient reports whether cl was registered.
func (rm *RoomManager) RemoveClient(cl *Client) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[cl.Topic]
	if !ok {
		return false
	}
	if _, ok := room[cl.ID]; !ok {
		return false
	}
	delete(room, cl.ID)
	if len(room) == 0 {
		delete(rm.rooms, cl.Topic)
	}
	return true
}

func (rm *RoomManager) Count(topic string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms[topic])
}

func (rm *RoomManager) Topics() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return slices.Sorted(maps.Keys(rm.rooms))
}

// Clients returns every registered client.
func (rm *RoomManager) Clients() []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var out []*Client
	for _, room := range rm.rooms {
		for _, cl := range room {
			out = append(out, cl)
		}
	}
	return out
}
