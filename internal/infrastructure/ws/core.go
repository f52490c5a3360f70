// Package ws is the realtime gateway: every websocket is bridged onto one
// channel of the node's realtime transport, so browser and headless clients
// share presence and broadcasts with in-process sessions.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/profanity"
	"github.com/hilthontt/roomsync/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
)

type Config struct {
	MaxFrameBytes       int64         `koanf:"max_frame_bytes"`
	BroadcastsPerSecond float64       `koanf:"broadcasts_per_second"`
	BroadcastBurst      int           `koanf:"broadcast_burst"`
	SendBuffer          int           `koanf:"send_buffer"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	PongTimeout         time.Duration `koanf:"pong_timeout"`
	PingInterval        time.Duration `koanf:"ping_interval"`
	AllowedOrigins      []string      `koanf:"allowed_origins"`
}

func NewDefaultConfig() Config {
	return Config{
		MaxFrameBytes:       16 << 10,
		BroadcastsPerSecond: 10,
		BroadcastBurst:      20,
		SendBuffer:          realtime.DefaultBuffer,
		WriteTimeout:        10 * time.Second,
		PongTimeout:         60 * time.Second,
		PingInterval:        25 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := NewDefaultConfig()
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	return c
}

type Core struct {
	transport  realtime.Transport
	cfg        Config
	filter     *profanity.Filter
	logger     logging.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	roomMgr    *RoomManager
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
}

func NewCore(transport realtime.Transport, cfg Config, filter *profanity.Filter, logger logging.Logger, m *metrics.Metrics) *Core {
	cfg = cfg.withDefaults()
	c := &Core{
		transport:  transport,
		cfg:        cfg,
		filter:     filter,
		logger:     logger,
		metrics:    m,
		roomMgr:    NewRoomManager(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	return c
}

func (c *Core) checkOrigin(r *http.Request) bool {
	if len(c.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (c *Core) Rooms() *RoomManager {
	return c.roomMgr
}

// Run owns the socket registry until ctx ends, then closes every socket.
func (c *Core) Run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case cl := <-c.register:
			c.roomMgr.AddClient(cl)
			c.metrics.SocketOpened()

		case cl := <-c.unregister:
			c.release(cl)

		case <-ctx.Done():
			for _, cl := range c.roomMgr.Clients() {
				c.release(cl)
			}
			c.logger.Info(logging.Realtime, logging.Shutdown, "gateway stopped", nil)
			return
		}
	}
}

// release closes the client's channel, which ends Forward, and stops its
// writer. Safe to call more than once.
func (c *Core) release(cl *Client) {
	if c.roomMgr.RemoveClient(cl) {
		c.metrics.SocketClosed()
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := cl.channel.Close(ctx); err != nil {
		c.logger.Warn(logging.Realtime, logging.Gateway, "close channel", cl.logFields(map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		}))
	}
	cl.shutdown()
}

// leave hands cl back to Run, or releases it directly once Run has returned.
func (c *Core) leave(cl *Client) {
	select {
	case c.unregister <- cl:
	case <-c.stopped:
		c.release(cl)
	}
}

// ServeHTTP upgrades GET /api/socket?topic=&key= and bridges the socket.
func (c *Core) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if _, _, err := domain.ParseTopic(topic); err != nil {
		http.Error(w, realtime.ErrInvalidTopic.Error(), http.StatusBadRequest)
		c.metrics.FrameRejected("invalid_topic")
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		key = uuid.NewString()
	}

	select {
	case <-c.stopped:
		http.Error(w, "gateway stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn(logging.Realtime, logging.Gateway, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.Topic:        topic,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	channel, err := c.transport.Open(ctx, topic, realtime.ChannelOptions{
		PresenceKey: key,
		Buffer:      c.cfg.SendBuffer,
	})
	if err != nil {
		code := CodeTransport
		if errors.Is(err, realtime.ErrInvalidTopic) {
			code = CodeInvalidFrame
		}
		wrapper := newConnWrapper(conn, c.cfg.WriteTimeout)
		_ = wrapper.WriteJSON(NewError(topic, code, "could not open channel"))
		_ = wrapper.CloseWith(websocket.CloseInternalServerErr, "")
		return
	}

	limiter := ratelimiter.NewSocketLimiter(c.cfg.BroadcastsPerSecond, c.cfg.BroadcastBurst)
	cl := NewClient(c, conn, channel, uuid.NewString(), key, limiter)

	select {
	case c.register <- cl:
	case <-c.stopped:
		_ = channel.Close(ctx)
		_ = conn.Close()
		return
	}

	c.logger.Debug(logging.Realtime, logging.Gateway, "socket connected", cl.logFields(nil))

	go cl.WriteMessage()
	go cl.Forward()
	go cl.ReadMessage(ctx)
}
