package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"golang.org/x/time/rate"
)

// Client is one websocket bridged onto one realtime channel.
type Client struct {
	conn    *connWrapper
	channel realtime.Channel
	limiter *rate.Limiter
	core    *Core
	send    chan *ServerFrame

	done      chan struct{}
	closeOnce sync.Once

	ID    string `json:"id"`
	Topic string `json:"topic"`
	Key   string `json:"key"`
}

func NewClient(core *Core, conn *websocket.Conn, channel realtime.Channel, id, key string, limiter *rate.Limiter) *Client {
	return &Client{
		conn:    newConnWrapper(conn, core.cfg.WriteTimeout),
		channel: channel,
		limiter: limiter,
		core:    core,
		send:    make(chan *ServerFrame, core.cfg.SendBuffer),
		done:    make(chan struct{}),
		ID:      id,
		Topic:   channel.Topic(),
		Key:     key,
	}
}

// Send queues a frame without blocking. A full queue drops the frame, the
// same at-most-once contract the transport gives.
func (c *Client) Send(frame *ServerFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.core.metrics.FrameRejected("slow_consumer")
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) ReadMessage(ctx context.Context) {
	defer c.core.leave(c)

	c.conn.conn.SetReadLimit(c.core.cfg.MaxFrameBytes)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(c.core.cfg.PongTimeout))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(c.core.cfg.PongTimeout))
	})

	for {
		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.core.metrics.FrameRejected("too_large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.core.logger.Debug(logging.Realtime, logging.Gateway, "socket read failed", c.logFields(map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				}))
			}
			return
		}
		_ = c.conn.conn.SetReadDeadline(time.Now().Add(c.core.cfg.PongTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reject(CodeInvalidFrame, "frame is not valid JSON")
			continue
		}
		if leave := c.handle(ctx, frame); leave {
			return
		}
	}
}

// handle applies one client frame and reports whether the socket asked to
// leave.
func (c *Client) handle(ctx context.Context, frame ClientFrame) bool {
	switch frame.Type {
	case TrackFrame:
		var presence domain.PresencePayload
		if err := json.Unmarshal(frame.Payload, &presence); err != nil {
			c.reject(CodeInvalidPresence, "presence must be an object")
			return false
		}
		if err := presence.Validate(); err != nil {
			c.reject(CodeInvalidPresence, err.Error())
			return false
		}
		if err := c.channel.Track(ctx, frame.Payload); err != nil {
			c.transportFailed("track", err)
		}

	case UntrackFrame:
		if err := c.channel.Untrack(ctx); err != nil {
			c.transportFailed("untrack", err)
		}

	case BroadcastFrame:
		if frame.Event == "" {
			c.reject(CodeInvalidFrame, "broadcast without event")
			return false
		}
		if !c.limiter.Allow() {
			c.reject(CodeRateLimited, "too many broadcasts")
			return false
		}
		if frame.Event == domain.EventChatMessage && c.profane(frame.Payload) {
			c.reject(CodeProfanity, "message was not delivered")
			return false
		}
		if frame.Event == domain.EventCorrectAnswer {
			payload, err := scoreOnly(frame.Payload)
			if err != nil {
				c.reject(CodeInvalidFrame, err.Error())
				return false
			}
			frame.Payload = payload
		}
		if err := c.channel.Broadcast(ctx, frame.Event, frame.Payload); err != nil {
			c.transportFailed("broadcast", err)
		}

	case LeaveFrame:
		return true

	default:
		c.reject(CodeInvalidFrame, "unknown frame type "+frame.Type)
	}
	return false
}

func (c *Client) profane(payload json.RawMessage) bool {
	var chat struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &chat); err != nil {
		return false
	}
	return c.core.filter.ContainsProfanity(chat.Message)
}

// scoreOnly re-encodes a correct_answer payload from its known fields, so
// nothing a client adds (such as the answer itself) reaches the room.
func scoreOnly(payload json.RawMessage) (json.RawMessage, error) {
	p, err := domain.DecodeBroadcast[domain.CorrectAnswerPayload](payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func (c *Client) reject(code, message string) {
	c.core.metrics.FrameRejected(code)
	c.Send(NewError(c.Topic, code, message))
}

func (c *Client) transportFailed(op string, err error) {
	c.core.logger.Warn(logging.Realtime, logging.Gateway, op+" failed", c.logFields(map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	}))
	c.Send(NewError(c.Topic, CodeTransport, op+" failed"))
}

// Forward relays transport events to the socket until the channel closes.
func (c *Client) Forward() {
	for ev := range c.channel.Events() {
		if frame := NewEventFrame(c.Topic, ev); frame != nil {
			c.Send(frame)
		}
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(c.core.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.CloseWith(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				c.core.logger.Debug(logging.Realtime, logging.Gateway, "socket write failed", c.logFields(map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				}))
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes frames queued before shutdown, such as a final error.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) logFields(extra map[logging.ExtraKey]any) map[logging.ExtraKey]any {
	if extra == nil {
		extra = map[logging.ExtraKey]any{}
	}
	extra[logging.Topic] = c.Topic
	extra[logging.MemberID] = c.Key
	return extra
}
