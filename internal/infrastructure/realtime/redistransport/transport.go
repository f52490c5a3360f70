// Package redistransport fans realtime topics out across nodes with Redis.
//
// Presence lives in one hash per topic, field "key|ref", refreshed by a
// heartbeat. Entries whose heartbeat is older than the presence TTL are
// treated as gone. Broadcasts and presence notices share one pub/sub
// channel per topic; a presence notice makes every subscriber re-read the
// hash and emit a full sync.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "roomsync:"

	DefaultHeartbeat   = 5 * time.Second
	DefaultPresenceTTL = 15 * time.Second
)

type Config struct {
	Heartbeat   time.Duration `koanf:"heartbeat"`
	PresenceTTL time.Duration `koanf:"presence_ttl"`
}

type Option func(*Transport)

func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

func WithDropCounter(c prometheus.Counter) Option {
	return func(t *Transport) { t.dropped = c }
}

type Transport struct {
	client  redis.UniversalClient
	cfg     Config
	logger  logging.Logger
	now     func() time.Time
	dropped prometheus.Counter
}

var _ realtime.Transport = (*Transport)(nil)

func New(client redis.UniversalClient, cfg Config, logger logging.Logger, opts ...Option) *Transport {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.PresenceTTL <= cfg.Heartbeat {
		cfg.PresenceTTL = 3 * cfg.Heartbeat
	}

	t := &Transport{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func presenceKey(topic string) string {
	return keyPrefix + "presence:" + topic
}

func channelKey(topic string) string {
	return keyPrefix + "topic:" + topic
}

func field(key, ref string) string {
	return key + "|" + ref
}

func splitField(f string) (key, ref string, ok bool) {
	i := strings.LastIndexByte(f, '|')
	if i < 0 {
		return "", "", false
	}
	return f[:i], f[i+1:], true
}

type storedEntry struct {
	Meta      json.RawMessage `json:"meta"`
	TrackedAt time.Time       `json:"trackedAt"`
	SeenAt    time.Time       `json:"seenAt"`
}

const (
	kindBroadcast = "broadcast"
	kindPresence  = "presence"
)

type message struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"origin"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (t *Transport) Open(ctx context.Context, topic string, opts realtime.ChannelOptions) (realtime.Channel, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, realtime.ErrInvalidTopic
	}

	sub := t.client.Subscribe(ctx, channelKey(topic))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	key := opts.PresenceKey
	if key == "" {
		key = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		transport: t,
		topic:     topic,
		key:       key,
		ref:       uuid.NewString(),
		self:      opts.Self,
		events:    make(chan realtime.Event, realtime.BufferSize(opts.Buffer)),
		sub:       sub,
		cancel:    cancel,
		done:      make(chan struct{}),
		connected: true,
	}

	state, err := t.readPresence(ctx, topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("read presence %s: %w", topic, err)
	}
	ch.last = state
	ch.offer(realtime.Event{Kind: realtime.EventSync, Presence: state.Clone()})
	ch.offer(realtime.Event{Kind: realtime.EventStatus, Connected: true})

	go ch.run(runCtx)
	return ch, nil
}

// readPresence loads the topic hash and drops entries whose heartbeat is
// older than the presence TTL.
func (t *Transport) readPresence(ctx context.Context, topic string) (realtime.PresenceState, error) {
	raw, err := t.client.HGetAll(ctx, presenceKey(topic)).Result()
	if err != nil {
		return nil, err
	}

	cutoff := t.now().Add(-t.cfg.PresenceTTL)
	state := realtime.PresenceState{}
	var stale []string
	for f, value := range raw {
		key, ref, ok := splitField(f)
		if !ok {
			continue
		}
		var entry storedEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			stale = append(stale, f)
			continue
		}
		if entry.SeenAt.Before(cutoff) {
			stale = append(stale, f)
			continue
		}
		state[key] = append(state[key], realtime.PresenceEntry{
			Ref:       ref,
			Meta:      entry.Meta,
			TrackedAt: entry.TrackedAt,
		})
	}
	for key := range state {
		slices.SortFunc(state[key], func(a, b realtime.PresenceEntry) int {
			if c := a.TrackedAt.Compare(b.TrackedAt); c != 0 {
				return c
			}
			return strings.Compare(a.Ref, b.Ref)
		})
	}

	if len(stale) > 0 {
		if err := t.client.HDel(ctx, presenceKey(topic), stale...).Err(); err != nil {
			t.logger.Warn(logging.Realtime, logging.Presence, "prune stale presence", map[logging.ExtraKey]any{
				logging.Topic:        topic,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	return state, nil
}

func (t *Transport) publish(ctx context.Context, topic string, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, channelKey(topic), data).Err()
}

type channel struct {
	transport *Transport
	topic     string
	key       string
	ref       string
	self      bool
	sub       *redis.PubSub
	cancel    context.CancelFunc
	done      chan struct{}

	// events is written only by Open and then by run.
	events chan realtime.Event

	// owned by run
	last      realtime.PresenceState
	connected bool

	mu     sync.Mutex
	entry  *storedEntry
	closed bool
}

func (c *channel) Topic() string {
	return c.topic
}

func (c *channel) Events() <-chan realtime.Event {
	return c.events
}

func (c *channel) offer(ev realtime.Event) {
	if !realtime.Offer(c.events, ev) && c.transport.dropped != nil {
		c.transport.dropped.Inc()
	}
}

func (c *channel) Track(ctx context.Context, meta json.RawMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	now := c.transport.now()
	c.entry = &storedEntry{
		Meta:      append(json.RawMessage(nil), meta...),
		TrackedAt: now,
		SeenAt:    now,
	}
	entry := *c.entry
	c.mu.Unlock()

	if err := c.write(ctx, entry); err != nil {
		return err
	}
	return c.transport.publish(ctx, c.topic, message{Kind: kindPresence, Origin: c.ref})
}

func (c *channel) write(ctx context.Context, entry storedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := c.transport.client.TxPipeline()
	pipe.HSet(ctx, presenceKey(c.topic), field(c.key, c.ref), data)
	pipe.Expire(ctx, presenceKey(c.topic), 2*c.transport.cfg.PresenceTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *channel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.ErrChannelClosed
	}
	tracked := c.entry != nil
	c.entry = nil
	c.mu.Unlock()

	if !tracked {
		return nil
	}
	return c.remove(ctx)
}

func (c *channel) remove(ctx context.Context) error {
	if err := c.transport.client.HDel(ctx, presenceKey(c.topic), field(c.key, c.ref)).Err(); err != nil {
		return err
	}
	return c.transport.publish(ctx, c.topic, message{Kind: kindPresence, Origin: c.ref})
}

func (c *channel) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return realtime.ErrChannelClosed
	}

	return c.transport.publish(ctx, c.topic, message{
		Kind:    kindBroadcast,
		Origin:  c.ref,
		Name:    name,
		Payload: payload,
	})
}

func (c *channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tracked := c.entry != nil
	c.entry = nil
	c.mu.Unlock()

	var err error
	if tracked {
		err = c.remove(ctx)
	}

	c.cancel()
	if subErr := c.sub.Close(); subErr != nil && err == nil {
		err = subErr
	}
	<-c.done
	close(c.events)
	return err
}

func (c *channel) run(ctx context.Context) {
	defer close(c.done)

	heartbeat := time.NewTicker(c.transport.cfg.Heartbeat)
	defer heartbeat.Stop()

	messages := c.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.handle(ctx, msg)
		case <-heartbeat.C:
			c.beat(ctx)
		}
	}
}

func (c *channel) handle(ctx context.Context, raw *redis.Message) {
	var msg message
	if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
		c.transport.logger.Warn(logging.Realtime, logging.Broadcast, "drop undecodable message", map[logging.ExtraKey]any{
			logging.Topic:        c.topic,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	switch msg.Kind {
	case kindBroadcast:
		if msg.Origin == c.ref && !c.self {
			return
		}
		c.offer(realtime.Event{
			Kind:    realtime.EventBroadcast,
			Name:    msg.Name,
			Payload: msg.Payload,
		})
	case kindPresence:
		c.refresh(ctx)
	}
}

// refresh re-reads presence and emits the changes since the last read
// followed by the full snapshot.
func (c *channel) refresh(ctx context.Context) {
	state, err := c.transport.readPresence(ctx, c.topic)
	if err != nil {
		c.setConnected(false, err)
		return
	}
	c.setConnected(true, nil)

	changes := realtime.Diff(c.last, state)
	if len(changes) == 0 {
		return
	}
	c.last = state
	for _, ev := range changes {
		c.offer(ev)
	}
	c.offer(realtime.Event{Kind: realtime.EventSync, Presence: state.Clone()})
}

// beat refreshes this subscriber's own entry and then re-reads presence so
// members that stopped heartbeating drop out.
func (c *channel) beat(ctx context.Context) {
	c.mu.Lock()
	var entry *storedEntry
	if c.entry != nil {
		c.entry.SeenAt = c.transport.now()
		e := *c.entry
		entry = &e
	}
	c.mu.Unlock()

	if entry != nil {
		if err := c.write(ctx, *entry); err != nil {
			c.setConnected(false, err)
			return
		}
	}
	c.refresh(ctx)
}

func (c *channel) setConnected(connected bool, err error) {
	if c.connected == connected {
		return
	}
	c.connected = connected
	if err != nil {
		c.transport.logger.Warn(logging.Realtime, logging.Reconnect, "redis unreachable", map[logging.ExtraKey]any{
			logging.Topic:        c.topic,
			logging.ErrorMessage: err.Error(),
		})
	}
	c.offer(realtime.Event{Kind: realtime.EventStatus, Connected: connected})
}
