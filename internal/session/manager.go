package session

import (
	"context"
	"sync"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
)

// Manager owns at most one live session, the one for the room currently on
// screen. Connecting to another room closes the old session first so its
// presence is gone before the new one appears.
type Manager[C any] struct {
	transport realtime.Transport
	opts      Options

	mu      sync.Mutex
	current *Session[C]
}

func NewManager[C any](transport realtime.Transport, opts Options) *Manager[C] {
	return &Manager[C]{
		transport: transport,
		opts:      opts.withDefaults(),
	}
}

// Connect returns the live session for the request's room, opening it if
// needed.
func (m *Manager[C]) Connect(ctx context.Context, req ConnectRequest[C]) (*Session[C], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic := domain.Topic(req.GameID, domain.NormalizeJoinCode(req.RoomCode))
	if m.current != nil && !m.current.Closed() && m.current.Topic() == topic {
		return m.current, nil
	}

	if m.current != nil {
		if err := m.current.Close(ctx); err != nil {
			m.opts.Logger.Warnf("closing previous session %s: %v", m.current.Topic(), err)
		}
		m.current = nil
	}

	s, err := open(ctx, m.transport, m.opts, req)
	if err != nil {
		return nil, err
	}

	m.current = s
	return s, nil
}

// Current returns the live session, or nil.
func (m *Manager[C]) Current() *Session[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Closed() {
		return nil
	}
	return m.current
}

// Close disposes of the live session, if any.
func (m *Manager[C]) Close(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close(ctx)
}
