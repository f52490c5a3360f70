package events

import (
	"context"
	"encoding/json"

	"github.com/hilthontt/roomsync/internal/infrastructure/contracts"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/messaging"
	"github.com/rabbitmq/amqp091-go"
)

type roomConsumer struct {
	rabbitmq *messaging.RabbitMQ
	logger   logging.Logger
}

// NewRoomConsumer logs the room lifecycle stream, one line per event.
func NewRoomConsumer(rabbitmq *messaging.RabbitMQ, logger logging.Logger) *roomConsumer {
	return &roomConsumer{
		rabbitmq: rabbitmq,
		logger:   logger,
	}
}

func (c *roomConsumer) Listen(ctx context.Context) error {
	return c.rabbitmq.ConsumeMessages(ctx, messaging.RoomsQueue, c.handle)
}

func (c *roomConsumer) handle(ctx context.Context, msg amqp091.Delivery) error {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		return err
	}

	var payload messaging.RoomEventData
	if err := json.Unmarshal(message.Data, &payload); err != nil {
		return err
	}

	c.logger.Info(logging.RabbitMQ, logging.ExternalService, "room event", map[logging.ExtraKey]any{
		logging.EventName: msg.RoutingKey,
		logging.GameID:    payload.Room.GameID,
		logging.RoomCode:  payload.Room.Code,
	})
	return nil
}
