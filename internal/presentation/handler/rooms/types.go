package rooms

import (
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
)

type createRoomRequest struct {
	HostName string `json:"hostName"`
	IsPublic bool   `json:"isPublic"`
}

type updateStatusRequest struct {
	Status domain.RoomStatus `json:"status"`
}

type roomResponse struct {
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

type listRoomsResponse struct {
	Rooms []roomResponse `json:"rooms"`
}
