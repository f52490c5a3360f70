package wsclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/profanity"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/memory"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "game:word-battle:K7M2"

// trackingListener remembers accepted connections so a test can cut them.
type trackingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

func (l *trackingListener) dropAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		_ = c.Close()
	}
	l.conns = nil
}

type fixture struct {
	hub       *memory.Hub
	listener  *trackingListener
	transport *Transport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	filter, err := profanity.Default()
	require.NoError(t, err)

	hub := memory.NewHub()
	core := ws.NewCore(hub, ws.NewDefaultConfig(), filter, logging.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)

	server := httptest.NewUnstartedServer(core)
	listener := &trackingListener{Listener: server.Listener}
	server.Listener = listener
	server.Start()
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	transport := New(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http") + "/api/socket"}, logging.NewNop(),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }),
	)
	return &fixture{hub: hub, listener: listener, transport: transport}
}

func (f *fixture) open(t *testing.T, key string) realtime.Channel {
	t.Helper()
	ch, err := f.transport.Open(context.Background(), topic, realtime.ChannelOptions{PresenceKey: key})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close(context.Background()) })
	return ch
}

func await(t *testing.T, ch realtime.Channel, match func(realtime.Event) bool) realtime.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			require.True(t, ok, "events channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return realtime.Event{}
		}
	}
}

func status(connected bool) func(realtime.Event) bool {
	return func(ev realtime.Event) bool {
		return ev.Kind == realtime.EventStatus && ev.Connected == connected
	}
}

func syncWith(key string) func(realtime.Event) bool {
	return func(ev realtime.Event) bool {
		_, ok := ev.Presence[key]
		return ev.Kind == realtime.EventSync && ok
	}
}

func presence(name string) json.RawMessage {
	return json.RawMessage(`{"username":"` + name + `","points":0,"correctAnswers":0,"streak":0,"joinedAt":"2026-03-01T12:00:00Z"}`)
}

func TestClient_OpenRejectsBadTopic(t *testing.T) {
	f := newFixture(t)
	_, err := f.transport.Open(context.Background(), "lobby", realtime.ChannelOptions{PresenceKey: "a"})
	assert.ErrorIs(t, err, realtime.ErrInvalidTopic)
}

func TestClient_PresenceAndBroadcast(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "a")
	b := f.open(t, "b")

	await(t, a, status(true))
	await(t, b, status(true))

	require.NoError(t, a.Track(context.Background(), presence("alice")))
	join := await(t, b, func(ev realtime.Event) bool { return ev.Kind == realtime.EventJoin })
	assert.Equal(t, "a", join.Key)
	require.Len(t, join.Entries, 1)
	await(t, b, syncWith("a"))

	require.NoError(t, a.Broadcast(context.Background(), "chat_message", json.RawMessage(`{"message":"hola"}`)))
	got := await(t, b, func(ev realtime.Event) bool { return ev.Kind == realtime.EventBroadcast })
	assert.Equal(t, "chat_message", got.Name)
	assert.JSONEq(t, `{"message":"hola"}`, string(got.Payload))

	require.NoError(t, a.Close(context.Background()))
	leave := await(t, b, func(ev realtime.Event) bool { return ev.Kind == realtime.EventLeave })
	assert.Equal(t, "a", leave.Key)
	assert.ErrorIs(t, a.Broadcast(context.Background(), "x", nil), realtime.ErrChannelClosed)
}

func TestClient_ReconnectRestoresPresence(t *testing.T) {
	f := newFixture(t)
	observer, err := f.hub.Open(context.Background(), topic, realtime.ChannelOptions{PresenceKey: "observer"})
	require.NoError(t, err)
	defer observer.Close(context.Background())

	a := f.open(t, "a")
	require.NoError(t, a.Track(context.Background(), presence("alice")))
	await(t, a, syncWith("a"))
	await(t, observer, syncWith("a"))

	f.listener.dropAll()

	await(t, a, status(false))
	await(t, observer, func(ev realtime.Event) bool { return ev.Kind == realtime.EventLeave && ev.Key == "a" })

	await(t, a, status(true))
	await(t, a, syncWith("a"))
	await(t, observer, syncWith("a"))
	assert.Len(t, f.hub.Presence(topic)["a"], 1)
}
