package contracts

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	GameID string `json:"gameId"`
	Data   []byte `json:"data"`
}

// Routing keys for room lifecycle events.
const (
	EventRoomCreated = "room.created"
	EventRoomStarted = "room.started"
	EventRoomClosed  = "room.closed"
)

var RoomEvents = []string{EventRoomCreated, EventRoomStarted, EventRoomClosed}
