// Package rooms is the room directory: it hands out join codes, answers
// join-by-code, and records each room's lifecycle.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
)

const createAttempts = 3

type EventPublisher interface {
	PublishRoomCreated(ctx context.Context, room domain.Room) error
	PublishRoomStarted(ctx context.Context, room domain.Room) error
	PublishRoomClosed(ctx context.Context, room domain.Room) error
}

type Service struct {
	repo    domain.RoomRepository
	events  EventPublisher
	logger  logging.Logger
	metrics *metrics.Metrics
	origin  string
	codes   func() (string, error)
}

type Option func(*Service)

// WithCodeGenerator replaces the random join code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.codes = gen }
}

func NewService(repo domain.RoomRepository, events EventPublisher, logger logging.Logger, m *metrics.Metrics, origin string, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		events:  events,
		logger:  logger,
		metrics: m,
		origin:  origin,
		codes:   domain.GenerateJoinCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new waiting room under a fresh code. The store rejects a
// code that is live for the same game; a new code is drawn a few times
// before giving up.
func (s *Service) Create(ctx context.Context, gameID, hostName string, isPublic bool) (*domain.Room, error) {
	ctx, span := tracing.GetTracer("roomsync/rooms").Start(ctx, "rooms.Create")
	defer span.End()
	span.SetAttributes(attribute.String("game.id", gameID), attribute.Bool("room.public", isPublic))

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		span.SetAttributes(attribute.Int("room.code_attempts", attempt+1))
		code, err := s.codes()
		if err != nil {
			return nil, err
		}
		room, err := domain.NewRoomWithCode(code, gameID, hostName, isPublic)
		if err != nil {
			return nil, err
		}

		err = s.repo.Create(ctx, room)
		if err == nil {
			s.metrics.RoomCreated(room.GameID)
			s.publish(ctx, s.events.PublishRoomCreated, *room)
			return room, nil
		}
		if !errors.Is(err, domain.ErrRoomAlreadyExists) {
			return nil, err
		}
		lastErr = err
	}
	span.SetStatus(otelcodes.Error, "no free room code")
	return nil, fmt.Errorf("no free room code after %d attempts: %w", createAttempts, lastErr)
}

// Join returns the room behind a code as long as it has not started.
func (s *Service) Join(ctx context.Context, gameID, code string) (*domain.Room, error) {
	room, err := s.Get(ctx, gameID, code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			s.metrics.RoomJoin("not_found")
		}
		return nil, err
	}

	if err := room.Joinable(); err != nil {
		s.metrics.RoomJoin("already_started")
		return nil, err
	}

	s.metrics.RoomJoin("ok")
	return room, nil
}

func (s *Service) Get(ctx context.Context, gameID, code string) (*domain.Room, error) {
	gameID = strings.TrimSpace(gameID)
	code = domain.NormalizeJoinCode(code)
	if gameID == "" {
		return nil, fmt.Errorf("%w: missing game id", domain.ErrInvalidInput)
	}
	if !domain.IsValidJoinCode(code) {
		return nil, domain.ErrRoomNotFound
	}
	return s.repo.Get(ctx, gameID, code)
}

// UpdateStatus moves a room forward through waiting, playing and closed.
// Repeating the current status is a no-op; going backwards is refused.
func (s *Service) UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error {
	ctx, span := tracing.GetTracer("roomsync/rooms").Start(ctx, "rooms.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("game.id", gameID), attribute.String("room.status", string(status)))

	room, err := s.Get(ctx, gameID, code)
	if err != nil {
		return err
	}
	if err := room.CanTransition(status); err != nil {
		return err
	}
	if room.Status == status {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, room.GameID, room.Code, status); err != nil {
		span.RecordError(err)
		return err
	}
	room.Status = status

	switch status {
	case domain.RoomStatusPlaying:
		s.publish(ctx, s.events.PublishRoomStarted, *room)
	case domain.RoomStatusClosed:
		s.publish(ctx, s.events.PublishRoomClosed, *room)
	}
	return nil
}

// ListPublic returns public rooms that can still be joined.
func (s *Service) ListPublic(ctx context.Context, gameID string) ([]domain.Room, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, fmt.Errorf("%w: missing game id", domain.ErrInvalidInput)
	}
	return s.repo.ListPublic(ctx, gameID)
}

func (s *Service) JoinLink(room *domain.Room) string {
	return domain.JoinLink(s.origin, room.GameID, room.Code)
}

// publish reports lifecycle events on a best-effort basis; the directory
// write has already happened.
func (s *Service) publish(ctx context.Context, fn func(context.Context, domain.Room) error, room domain.Room) {
	if err := fn(ctx, room); err != nil {
		s.logger.Warn(logging.RabbitMQ, logging.ExternalService, "publish room event", map[logging.ExtraKey]any{
			logging.GameID:       room.GameID,
			logging.RoomCode:     room.Code,
			logging.ErrorMessage: err.Error(),
		})
	}
}
