// Package realtime defines the channel transport the session layer is built
// on: named topics with presence and fire-and-forget broadcasts.
//
// Delivery is at-most-once. A subscriber whose event buffer is full loses the
// event; nothing is acknowledged, retried, or replayed to late joiners.
// Callers must treat every broadcast as an idempotent snapshot.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrInvalidTopic  = errors.New("invalid topic")
)

const DefaultBuffer = 64

type EventKind int

const (
	EventSync EventKind = iota + 1
	EventJoin
	EventLeave
	EventBroadcast
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventSync:
		return "sync"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventBroadcast:
		return "broadcast"
	case EventStatus:
		return "status"
	}
	return "unknown"
}

// PresenceEntry is one tracked connection. A key may carry several entries
// when the same identity is connected more than once.
type PresenceEntry struct {
	Ref       string          `json:"ref"`
	Meta      json.RawMessage `json:"meta"`
	TrackedAt time.Time       `json:"trackedAt"`
}

type PresenceState map[string][]PresenceEntry

func (s PresenceState) Clone() PresenceState {
	out := make(PresenceState, len(s))
	for k, entries := range s {
		out[k] = append([]PresenceEntry(nil), entries...)
	}
	return out
}

// Event is one item on a subscriber's stream. Which fields are set depends
// on Kind: Presence for sync, Key and Entries for join/leave, Name and
// Payload for broadcast, Connected for status.
type Event struct {
	Kind      EventKind
	Presence  PresenceState
	Key       string
	Entries   []PresenceEntry
	Name      string
	Payload   json.RawMessage
	Connected bool
}

type ChannelOptions struct {
	// PresenceKey identifies this subscriber in presence state.
	PresenceKey string
	// Self delivers this subscriber's own broadcasts back to it.
	Self bool
	// Buffer is the event buffer size; DefaultBuffer when zero.
	Buffer int
}

type Transport interface {
	Open(ctx context.Context, topic string, opts ChannelOptions) (Channel, error)
}

type Channel interface {
	Topic() string
	// Events is closed after Close.
	Events() <-chan Event
	// Track replaces this subscriber's presence entry.
	Track(ctx context.Context, meta json.RawMessage) error
	Untrack(ctx context.Context) error
	// Broadcast returns once the message is handed to the transport. It says
	// nothing about delivery.
	Broadcast(ctx context.Context, name string, payload json.RawMessage) error
	// Close unsubscribes and removes presence immediately.
	Close(ctx context.Context) error
}

// Offer enqueues ev without blocking and reports whether it was accepted.
func Offer(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

func BufferSize(n int) int {
	if n <= 0 {
		return DefaultBuffer
	}
	return n
}
