// Package wsclient is a realtime transport that reaches the gateway over a
// websocket. A dropped socket is redialed with exponential backoff and the
// last tracked presence is sent again; the gateway then replays the full
// presence state.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	// URL of the gateway socket endpoint, e.g. ws://localhost:8080/api/socket.
	URL              string        `koanf:"url"`
	DialTimeout      time.Duration `koanf:"dial_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
	ReconnectTimeout time.Duration `koanf:"reconnect_timeout"`
}

type Option func(*Transport)

func WithDropCounter(c prometheus.Counter) Option {
	return func(t *Transport) { t.dropped = c }
}

// WithBackOff replaces the reconnect schedule.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(t *Transport) { t.backoff = factory }
}

type Transport struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  logging.Logger
	dropped prometheus.Counter
	backoff func() backoff.BackOff
}

var _ realtime.Transport = (*Transport)(nil)

func New(cfg Config, logger logging.Logger, opts ...Option) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	t := &Transport{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		logger: logger,
	}
	t.backoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = t.cfg.MaxBackoff
		return b
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) endpoint(topic, key string) (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("gateway url: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic)
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transport) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("%w: gateway answered %s", realtime.ErrInvalidTopic, resp.Status))
		}
		return nil, err
	}
	return conn, nil
}

// Open dials once; failures after that are retried in the background and
// surface as status events. The gateway never echoes a socket's own
// broadcasts, so opts.Self is not supported.
func (t *Transport) Open(ctx context.Context, topic string, opts realtime.ChannelOptions) (realtime.Channel, error) {
	if opts.PresenceKey == "" {
		return nil, fmt.Errorf("%w: presence key is required", domain.ErrInvalidInput)
	}
	endpoint, err := t.endpoint(topic, opts.PresenceKey)
	if err != nil {
		return nil, err
	}

	conn, err := t.dial(ctx, endpoint)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		transport: t,
		topic:     topic,
		endpoint:  endpoint,
		events:    make(chan realtime.Event, realtime.BufferSize(opts.Buffer)),
		cancel:    cancel,
		done:      make(chan struct{}),
		conn:      conn,
	}
	go ch.run(runCtx)
	return ch, nil
}

type channel struct {
	transport *Transport
	topic     string
	endpoint  string
	events    chan realtime.Event
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	meta   json.RawMessage
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

// writeLocked sends a frame on the current socket. Callers hold c.mu.
func (c *channel) writeLocked(frame ws.ClientFrame) error {
	if c.conn == nil {
		return domain.ErrTransportDisconnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.transport.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}
	return nil
}

func (c *channel) Track(ctx context.Context, meta json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}

	// Remembered even when offline so the next reconnect restores it.
	c.meta = append(json.RawMessage(nil), meta...)
	return c.writeLocked(ws.ClientFrame{Type: ws.TrackFrame, Payload: c.meta})
}

func (c *channel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}

	c.meta = nil
	return c.writeLocked(ws.ClientFrame{Type: ws.UntrackFrame})
}

func (c *channel) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrChannelClosed
	}
	return c.writeLocked(ws.ClientFrame{Type: ws.BroadcastFrame, Event: name, Payload: payload})
}

func (c *channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	if conn != nil {
		_ = c.writeLocked(ws.ClientFrame{Type: ws.LeaveFrame})
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *channel) run(ctx context.Context) {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		c.read(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		c.offer(realtime.Event{Kind: realtime.EventStatus, Connected: false})
		if err := c.reconnect(ctx); err != nil {
			if ctx.Err() == nil {
				c.transport.logger.Error(logging.Realtime, logging.Reconnect, "giving up on gateway", map[logging.ExtraKey]any{
					logging.Topic:        c.topic,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}
	}
}

// read pumps frames from conn until it fails.
func (c *channel) read(conn *websocket.Conn) {
	for {
		var frame ws.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			_ = conn.Close()
			return
		}

		if frame.Type == ws.ErrorFrame {
			fields := map[logging.ExtraKey]any{logging.Topic: c.topic}
			if frame.Error != nil {
				fields[logging.ErrorMessage] = frame.Error.Code + ": " + frame.Error.Message
			}
			c.transport.logger.Warn(logging.Realtime, logging.Gateway, "gateway rejected a frame", fields)
			continue
		}
		if ev, ok := frame.ToEvent(); ok {
			c.offer(ev)
		}
	}
}

func (c *channel) reconnect(ctx context.Context) error {
	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		attempt++
		return c.transport.dial(ctx, c.endpoint)
	},
		backoff.WithBackOff(c.transport.backoff()),
		backoff.WithMaxElapsedTime(c.transport.cfg.ReconnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.transport.logger.Warn(logging.Realtime, logging.Reconnect, "gateway unreachable", map[logging.ExtraKey]any{
				logging.Topic:        c.topic,
				logging.ErrorMessage: err.Error(),
				logging.RetryIn:      next.String(),
			})
		}),
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return realtime.ErrChannelClosed
	}
	c.conn = conn
	if c.meta != nil {
		if err := c.writeLocked(ws.ClientFrame{Type: ws.TrackFrame, Payload: c.meta}); err != nil {
			c.transport.logger.Warn(logging.Realtime, logging.Reconnect, "restore presence", map[logging.ExtraKey]any{
				logging.Topic:        c.topic,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	c.transport.logger.Info(logging.Realtime, logging.Reconnect, "gateway reconnected", map[logging.ExtraKey]any{
		logging.Topic:    c.topic,
		logging.Attempts: attempt,
	})
	return nil
}
