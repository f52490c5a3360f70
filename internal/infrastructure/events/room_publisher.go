package events

import (
	"context"
	"encoding/json"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/contracts"
	"github.com/hilthontt/roomsync/internal/infrastructure/messaging"
)

type RoomPublisher struct {
	rabbitmq *messaging.RabbitMQ
}

func NewRoomPublisher(rabbitmq *messaging.RabbitMQ) *RoomPublisher {
	return &RoomPublisher{
		rabbitmq: rabbitmq,
	}
}

func (p *RoomPublisher) PublishRoomCreated(ctx context.Context, room domain.Room) error {
	return p.publish(ctx, contracts.EventRoomCreated, room)
}

func (p *RoomPublisher) PublishRoomStarted(ctx context.Context, room domain.Room) error {
	return p.publish(ctx, contracts.EventRoomStarted, room)
}

func (p *RoomPublisher) PublishRoomClosed(ctx context.Context, room domain.Room) error {
	return p.publish(ctx, contracts.EventRoomClosed, room)
}

func (p *RoomPublisher) publish(ctx context.Context, routingKey string, room domain.Room) error {
	roomEventJSON, err := json.Marshal(messaging.RoomEventData{Room: room})
	if err != nil {
		return err
	}

	return p.rabbitmq.PublishMessage(ctx, routingKey, contracts.AmqpMessage{
		GameID: room.GameID,
		Data:   roomEventJSON,
	})
}

// NopPublisher is used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishRoomCreated(context.Context, domain.Room) error { return nil }
func (NopPublisher) PublishRoomStarted(context.Context, domain.Room) error { return nil }
func (NopPublisher) PublishRoomClosed(context.Context, domain.Room) error { return nil }
