package ws

import (
	"encoding/json"

	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
)

// ClientFrame is what a socket sends: track, untrack, broadcast or leave.
type ClientFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is what the gateway sends. Join and leave frames carry the
// changed key's entries in Presence.
type ServerFrame struct {
	Type      string                 `json:"type"`
	Topic     string                 `json:"topic"`
	Key       string                 `json:"key,omitempty"`
	Event     string                 `json:"event,omitempty"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	Presence  realtime.PresenceState `json:"presence,omitempty"`
	Connected *bool                  `json:"connected,omitempty"`
	Error     *ErrorPayload          `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEventFrame renders one transport event for the wire.
func NewEventFrame(topic string, ev realtime.Event) *ServerFrame {
	switch ev.Kind {
	case realtime.EventSync:
		presence := ev.Presence
		if presence == nil {
			presence = realtime.PresenceState{}
		}
		return &ServerFrame{Type: PresenceStateFrame, Topic: topic, Presence: presence}
	case realtime.EventJoin:
		return &ServerFrame{
			Type:     PresenceJoinFrame,
			Topic:    topic,
			Key:      ev.Key,
			Presence: realtime.PresenceState{ev.Key: ev.Entries},
		}
	case realtime.EventLeave:
		return &ServerFrame{
			Type:     PresenceLeaveFrame,
			Topic:    topic,
			Key:      ev.Key,
			Presence: realtime.PresenceState{ev.Key: ev.Entries},
		}
	case realtime.EventBroadcast:
		return &ServerFrame{Type: BroadcastFrame, Topic: topic, Event: ev.Name, Payload: ev.Payload}
	case realtime.EventStatus:
		return NewStatus(topic, ev.Connected)
	}
	return nil
}

func NewStatus(topic string, connected bool) *ServerFrame {
	return &ServerFrame{Type: StatusFrame, Topic: topic, Connected: &connected}
}

func NewError(topic, code, message string) *ServerFrame {
	return &ServerFrame{
		Type:  ErrorFrame,
		Topic: topic,
		Error: &ErrorPayload{Code: code, Message: message},
	}
}

// ToEvent converts a server frame back into a transport event. ok is false
// for frames that carry no event, such as errors.
func (f *ServerFrame) ToEvent() (realtime.Event, bool) {
	switch f.Type {
	case PresenceStateFrame:
		presence := f.Presence
		if presence == nil {
			presence = realtime.PresenceState{}
		}
		return realtime.Event{Kind: realtime.EventSync, Presence: presence}, true
	case PresenceJoinFrame:
		return realtime.Event{Kind: realtime.EventJoin, Key: f.Key, Entries: f.Presence[f.Key]}, true
	case PresenceLeaveFrame:
		return realtime.Event{Kind: realtime.EventLeave, Key: f.Key, Entries: f.Presence[f.Key]}, true
	case BroadcastFrame:
		return realtime.Event{Kind: realtime.EventBroadcast, Name: f.Event, Payload: f.Payload}, true
	case StatusFrame:
		connected := f.Connected != nil && *f.Connected
		return realtime.Event{Kind: realtime.EventStatus, Connected: connected}, true
	}
	return realtime.Event{}, false
}
