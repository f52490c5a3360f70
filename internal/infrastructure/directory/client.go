// Package directory is an HTTP client for the room directory API, used by
// players that are not running inside the server process.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

type Room struct {
	domain.Room
	Topic    string `json:"topic"`
	JoinLink string `json:"joinLink"`
}

// UnmarshalJSON accepts the flattened isPublic field the API sends.
func (r *Room) UnmarshalJSON(data []byte) error {
	var wire struct {
		Code      string            `json:"code"`
		GameID    string            `json:"gameId"`
		HostID    string            `json:"hostId"`
		HostName  string            `json:"hostName"`
		Status    domain.RoomStatus `json:"status"`
		IsPublic  bool              `json:"isPublic"`
		Topic     string            `json:"topic"`
		JoinLink  string            `json:"joinLink"`
		CreatedAt time.Time         `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Room{
		Room: domain.Room{
			Code:      wire.Code,
			GameID:    wire.GameID,
			HostID:    wire.HostID,
			HostName:  wire.HostName,
			Status:    wire.Status,
			Settings:  domain.RoomSettings{IsPublic: wire.IsPublic},
			CreatedAt: wire.CreatedAt,
		},
		Topic:    wire.Topic,
		JoinLink: wire.JoinLink,
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) roomsURL(gameID string, parts ...string) string {
	u := c.baseURL + "/api/games/" + url.PathEscape(gameID) + "/rooms"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *Client) Create(ctx context.Context, gameID, hostName string, isPublic bool) (*Room, error) {
	body := map[string]any{"hostName": hostName, "isPublic": isPublic}
	var room Room
	if err := c.do(ctx, http.MethodPost, c.roomsURL(gameID), body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) Join(ctx context.Context, gameID, code string) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodPost, c.roomsURL(gameID, code, "join"), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) Get(ctx context.Context, gameID, code string) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodGet, c.roomsURL(gameID, code), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateStatus lets a remote host session mark its room playing or closed.
func (c *Client) UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error {
	body := map[string]any{"status": status}
	return c.do(ctx, http.MethodPatch, c.roomsURL(gameID, code, "status"), body, nil)
}

func (c *Client) ListPublic(ctx context.Context, gameID string) ([]Room, error) {
	var resp struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, c.roomsURL(gameID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		return statusError(resp.StatusCode, apiErr)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps API failures back onto the domain sentinels.
func statusError(status int, apiErr errorResponse) error {
	switch apiErr.Error {
	case "RoomNotFound":
		return domain.ErrRoomNotFound
	case "RoomAlreadyStarted":
		return domain.ErrRoomAlreadyStarted
	case "InvalidTransition":
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, apiErr.Message)
	}
	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, apiErr.Message)
	}
	return fmt.Errorf("room directory answered %d: %s", status, apiErr.Message)
}
