package domain

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	joinCodeLength = 4

	// 32 symbols; 0, O, 1 and I are left out so codes can be read aloud.
	joinCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var charsetLen = big.NewInt(int64(len(joinCodeChars)))

type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusClosed  RoomStatus = "closed"
)

func (s RoomStatus) order() int {
	switch s {
	case RoomStatusWaiting:
		return 0
	case RoomStatusPlaying:
		return 1
	case RoomStatusClosed:
		return 2
	}
	return -1
}

func (s RoomStatus) Valid() bool {
	return s.order() >= 0
}

type RoomSettings struct {
	IsPublic bool `json:"isPublic" bson:"is_public"`
}

type Room struct {
	Code      string       `json:"code" bson:"code"`
	GameID    string       `json:"gameId" bson:"game_id"`
	HostID    string       `json:"hostId" bson:"host_id"`
	HostName  string       `json:"hostName" bson:"host_name"`
	Status    RoomStatus   `json:"status" bson:"status"`
	Settings  RoomSettings `json:"settings" bson:"settings"`
	CreatedAt time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time    `json:"updatedAt" bson:"updated_at"`
}

// RoomRepository is the Room Directory store. Writes are plain field-level
// updates: concurrent writers race and the last one wins.
type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	Get(ctx context.Context, gameID, code string) (*Room, error)
	UpdateStatus(ctx context.Context, gameID, code string, status RoomStatus) error
	ListPublic(ctx context.Context, gameID string) ([]Room, error)
}

func NewRoom(gameID, hostName string, isPublic bool) (*Room, error) {
	code, err := GenerateJoinCode()
	if err != nil {
		return nil, err
	}
	return NewRoomWithCode(code, gameID, hostName, isPublic)
}

func NewRoomWithCode(code, gameID, hostName string, isPublic bool) (*Room, error) {
	gameID = strings.TrimSpace(gameID)
	hostName = strings.TrimSpace(hostName)
	code = NormalizeJoinCode(code)
	if gameID == "" || hostName == "" || !IsValidJoinCode(code) {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	return &Room{
		Code:      code,
		GameID:    gameID,
		HostID:    uuid.NewString(),
		HostName:  hostName,
		Status:    RoomStatusWaiting,
		Settings:  RoomSettings{IsPublic: isPublic},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Active reports whether the room still owns its code.
func (r *Room) Active() bool {
	return r.Status != RoomStatusClosed
}

// Joinable returns ErrRoomAlreadyStarted once the host has kicked off.
func (r *Room) Joinable() error {
	if r.Status != RoomStatusWaiting {
		return ErrRoomAlreadyStarted
	}
	return nil
}

// CanTransition enforces waiting -> playing -> closed. Skipping straight to
// closed is allowed, repeating the current status is a no-op.
func (r *Room) CanTransition(to RoomStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if to.order() < r.Status.order() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	return nil
}

func GenerateJoinCode() (string, error) {
	var sb strings.Builder
	sb.Grow(joinCodeLength)

	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(joinCodeChars[n.Int64()])
	}

	return sb.String(), nil
}

// NormalizeJoinCode upper-cases and trims user input before lookup.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsValidJoinCode(code string) bool {
	if len(code) != joinCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(joinCodeChars, code[i]) < 0 {
			return false
		}
	}
	return true
}
