// Package memory is an in-process realtime transport. The gateway serves it
// to websocket clients when running a single node, and tests use it directly.
package memory

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/prometheus/client_golang/prometheus"
)

type Option func(*Hub)

// WithClock overrides the clock used to stamp presence entries.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithDropCounter counts events discarded because a subscriber was full.
func WithDropCounter(c prometheus.Counter) Option {
	return func(h *Hub) { h.dropped = c }
}

type Hub struct {
	mu      sync.Mutex
	topics  map[string]map[*channel]struct{}
	now     func() time.Time
	dropped prometheus.Counter
}

var _ realtime.Transport = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]map[*channel]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Open(ctx context.Context, topic string, opts realtime.ChannelOptions) (realtime.Channel, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, realtime.ErrInvalidTopic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := opts.PresenceKey
	if key == "" {
		key = uuid.NewString()
	}

	ch := &channel{
		hub:    h,
		topic:  topic,
		key:    key,
		ref:    uuid.NewString(),
		self:   opts.Self,
		events: make(chan realtime.Event, realtime.BufferSize(opts.Buffer)),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*channel]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}

	h.offer(ch, realtime.Event{Kind: realtime.EventSync, Presence: h.stateLocked(topic)})
	h.offer(ch, realtime.Event{Kind: realtime.EventStatus, Connected: true})
	return ch, nil
}

// Subscribers returns how many channels are open on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Presence returns a snapshot of the presence state of topic.
func (h *Hub) Presence(topic string) realtime.PresenceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked(topic)
}

func (h *Hub) stateLocked(topic string) realtime.PresenceState {
	state := realtime.PresenceState{}
	for ch := range h.topics[topic] {
		if ch.entry == nil {
			continue
		}
		state[ch.key] = append(state[ch.key], *ch.entry)
	}
	for key := range state {
		slices.SortFunc(state[key], func(a, b realtime.PresenceEntry) int {
			return a.TrackedAt.Compare(b.TrackedAt)
		})
	}
	return state
}

// presenceChangedLocked tells every subscriber about key and then sends the
// full snapshot so receivers can replace their view wholesale.
func (h *Hub) presenceChangedLocked(topic, key string) {
	state := h.stateLocked(topic)
	diff := realtime.Event{Kind: realtime.EventLeave, Key: key}
	if entries, ok := state[key]; ok {
		diff = realtime.Event{Kind: realtime.EventJoin, Key: key, Entries: entries}
	}

	for ch := range h.topics[topic] {
		h.offer(ch, diff)
		h.offer(ch, realtime.Event{Kind: realtime.EventSync, Presence: state.Clone()})
	}
}

func (h *Hub) offer(ch *channel, ev realtime.Event) {
	if ch.closed {
		return
	}
	if !realtime.Offer(ch.events, ev) && h.dropped != nil {
		h.dropped.Inc()
	}
}

type channel struct {
	hub    *Hub
	topic  string
	key    string
	ref    string
	self   bool
	events chan realtime.Event

	// guarded by hub.mu
	entry  *realtime.PresenceEntry
	closed bool
}

func (c *channel) Topic() string {
	return c.topic
}

func (c *channel) Events() <-chan realtime.Event {
	return c.events
}

func (c *channel) Track(ctx context.Context, meta json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}

	c.entry = &realtime.PresenceEntry{
		Ref:       c.ref,
		Meta:      append(json.RawMessage(nil), meta...),
		TrackedAt: c.hub.now(),
	}
	c.hub.presenceChangedLocked(c.topic, c.key)
	return nil
}

func (c *channel) Untrack(ctx context.Context) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}
	if c.entry == nil {
		return nil
	}

	c.entry = nil
	c.hub.presenceChangedLocked(c.topic, c.key)
	return nil
}

func (c *channel) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}

	ev := realtime.Event{
		Kind:    realtime.EventBroadcast,
		Name:    name,
		Payload: append(json.RawMessage(nil), payload...),
	}
	for sub := range c.hub.topics[c.topic] {
		if sub == c && !c.self {
			continue
		}
		c.hub.offer(sub, ev)
	}
	return nil
}

func (c *channel) Close(ctx context.Context) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.closed {
		return nil
	}

	c.closed = true
	close(c.events)

	subs := c.hub.topics[c.topic]
	delete(subs, c)
	if len(subs) == 0 {
		delete(c.hub.topics, c.topic)
		return nil
	}

	if c.entry != nil {
		c.entry = nil
		c.hub.presenceChangedLocked(c.topic, c.key)
	}
	return nil
}
