package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hilthontt/roomsync/internal/application/rooms"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/events"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/profanity"
	"github.com/hilthontt/roomsync/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/memory"
	"github.com/hilthontt/roomsync/internal/infrastructure/repository"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/roomsync/internal/presentation/handler/health"
	roomHandler "github.com/hilthontt/roomsync/internal/presentation/handler/rooms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, limit int, codes ...string) *testServer {
	t.Helper()
	cfg, err := configs.Load("")
	require.NoError(t, err)
	cfg.RateLimiter.RequestsPerTimeFrame = limit
	cfg.Share.Origin = "https://play.example"

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := logging.NewNop()

	var opts []rooms.Option
	if len(codes) > 0 {
		opts = append(opts, rooms.WithCodeGenerator(func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}))
	}
	service := rooms.NewService(repository.NewRoomRepository(100, time.Hour), events.NopPublisher{}, logger, m, cfg.Share.Origin, opts...)

	filter, err := profanity.Default()
	require.NoError(t, err)
	core := ws.NewCore(memory.NewHub(), cfg.Gateway, filter, logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)

	limiter := ratelimiter.NewKeyedLimiter(cfg.RateLimiter)
	app := NewApplication(*cfg,
		roomHandler.NewHandler(service, logger),
		healthHandler.NewHandler(nil),
		core, logger, limiter, m, reg,
	)

	server := httptest.NewServer(app.Mount())
	t.Cleanup(func() {
		server.Close()
		cancel()
		limiter.Close()
	})
	return &testServer{server}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestRooms_JoinByCodeLifecycle(t *testing.T) {
	s := newTestServer(t, 1000, "K7M2")

	resp, body := s.do(t, http.MethodPost, "/api/games/word-battle/rooms", `{"hostName":"Ana","isPublic":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "K7M2", body["code"])
	assert.Equal(t, "word-battle", body["gameId"])
	assert.Equal(t, "waiting", body["status"])
	assert.Equal(t, "game:word-battle:K7M2", body["topic"])
	assert.Equal(t, "https://play.example/game/word-battle?room=K7M2", body["joinLink"])
	assert.NotEmpty(t, body["hostId"])

	resp, body = s.do(t, http.MethodPost, "/api/games/word-battle/rooms/k7m2/join", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ana", body["hostName"])

	resp, _ = s.do(t, http.MethodPatch, "/api/games/word-battle/rooms/K7M2/status", `{"status":"playing"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/games/word-battle/rooms/K7M2/join", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "RoomAlreadyStarted", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/games/word-battle/rooms/ZZZZ/join", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "RoomNotFound", body["error"])

	resp, body = s.do(t, http.MethodPatch, "/api/games/word-battle/rooms/K7M2/status", `{"status":"waiting"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "InvalidTransition", body["error"])

	resp, body = s.do(t, http.MethodGet, "/api/games/word-battle/rooms/K7M2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "playing", body["status"])
}

func TestRooms_ValidatesInput(t *testing.T) {
	s := newTestServer(t, 1000)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad game id", http.MethodPost, "/api/games/Word%20Battle/rooms", `{"hostName":"Ana"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/games/word-battle/rooms", `{"host":"Ana"}`, http.StatusBadRequest},
		{"name too long", http.MethodPost, "/api/games/word-battle/rooms", `{"hostName":"` + strings.Repeat("a", 40) + `"}`, http.StatusBadRequest},
		{"bad status", http.MethodPatch, "/api/games/word-battle/rooms/K7M2/status", `{"status":"paused"}`, http.StatusBadRequest},
		{"malformed code", http.MethodGet, "/api/games/word-battle/rooms/0000", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRooms_PlaceholderHostName(t *testing.T) {
	s := newTestServer(t, 1000)

	resp, body := s.do(t, http.MethodPost, "/api/games/word-battle/rooms", `{"isPublic":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Regexp(t, `^Player_\d{4}$`, body["hostName"])
}

func TestRooms_ListPublic(t *testing.T) {
	s := newTestServer(t, 1000, "AAAA", "BBBB")

	s.do(t, http.MethodPost, "/api/games/word-battle/rooms", `{"hostName":"Ana","isPublic":true}`)
	s.do(t, http.MethodPost, "/api/games/word-battle/rooms", `{"hostName":"Ben","isPublic":false}`)

	resp, body := s.do(t, http.MethodGet, "/api/games/word-battle/rooms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok := body["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "AAAA", list[0].(map[string]any)["code"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodGet, "/api/games/word-battle/rooms", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := s.do(t, http.MethodGet, "/api/games/word-battle/rooms", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health checks are not limited")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 1000)

	for _, path := range []string{"/api/health", "/api/healthz", "/api/ready", "/api/live"} {
		resp, body := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", body["status"], path)
	}

	s.do(t, http.MethodPost, "/api/games/word-battle/rooms", `{"hostName":"Ana"}`)

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `roomsync_rooms_created_total{game="word-battle"} 1`)
	assert.Contains(t, string(raw), `roomsync_http_request_duration_seconds`)
}

func TestSocketRejectsBadTopic(t *testing.T) {
	s := newTestServer(t, 1000)

	resp, _ := s.do(t, http.MethodGet, "/api/socket?topic=lobby", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCors(t *testing.T) {
	s := newTestServer(t, 1000)

	req, err := http.NewRequest(http.MethodOptions, s.URL+"/api/games/word-battle/rooms", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://play.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://play.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
