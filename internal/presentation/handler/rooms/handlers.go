package rooms

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	roomsApp "github.com/hilthontt/roomsync/internal/application/rooms"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/validate"
)

const maxNameLength = 32

var (
	validGameID   = validate.Field("gameId", validate.Required(), validate.MaxLength(64), validate.Slug())
	validHostName = validate.Field("hostName", validate.MaxLength(maxNameLength), validate.Printable())
	validStatus   = validate.Field("status", validate.OneOf(
		string(domain.RoomStatusWaiting),
		string(domain.RoomStatusPlaying),
		string(domain.RoomStatusClosed),
	))
)

type Handler struct {
	service *roomsApp.Service
	logger  logging.Logger
}

func NewHandler(service *roomsApp.Service, logger logging.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) toResponse(room *domain.Room) roomResponse {
	return roomResponse{
		Code:      room.Code,
		GameID:    room.GameID,
		HostID:    room.HostID,
		HostName:  room.HostName,
		Status:    room.Status,
		IsPublic:  room.Settings.IsPublic,
		Topic:     domain.Topic(room.GameID, room.Code),
		JoinLink:  h.service.JoinLink(room),
		CreatedAt: room.CreatedAt,
	}
}

func gameID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "gameId")
	if err := validGameID(id); err != nil {
		json.WriteValidationError(w, err)
		return "", false
	}
	return id, true
}

// CreateRoomHandler handles POST /api/games/{gameId}/rooms.
func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(w, r)
	if !ok {
		return
	}

	var req createRoomRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	hostName := domain.DisplayNameOrPlaceholder(req.HostName)
	if err := validHostName(hostName); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	room, err := h.service.Create(r.Context(), game, hostName, req.IsPublic)
	if err != nil {
		h.writeRoomError(w, err)
		return
	}

	h.logger.Info(logging.RequestResponse, logging.API, "room created", map[logging.ExtraKey]any{
		logging.GameID:   room.GameID,
		logging.RoomCode: room.Code,
	})
	json.Write(w, http.StatusCreated, h.toResponse(room))
}

// JoinRoomHandler handles POST /api/games/{gameId}/rooms/{code}/join.
func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(w, r)
	if !ok {
		return
	}

	room, err := h.service.Join(r.Context(), game, chi.URLParam(r, "code"))
	if err != nil {
		h.writeRoomError(w, err)
		return
	}
	json.Write(w, http.StatusOK, h.toResponse(room))
}

// GetRoomHandler handles GET /api/games/{gameId}/rooms/{code}.
func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(w, r)
	if !ok {
		return
	}

	room, err := h.service.Get(r.Context(), game, chi.URLParam(r, "code"))
	if err != nil {
		h.writeRoomError(w, err)
		return
	}
	json.Write(w, http.StatusOK, h.toResponse(room))
}

// UpdateStatusHandler handles PATCH /api/games/{gameId}/rooms/{code}/status.
func (h *Handler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if err := validStatus(string(req.Status)); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), game, chi.URLParam(r, "code"), req.Status); err != nil {
		h.writeRoomError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPublicRoomsHandler handles GET /api/games/{gameId}/rooms.
func (h *Handler) ListPublicRoomsHandler(w http.ResponseWriter, r *http.Request) {
	game, ok := gameID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListPublic(r.Context(), game)
	if err != nil {
		h.writeRoomError(w, err)
		return
	}

	resp := listRoomsResponse{Rooms: make([]roomResponse, 0, len(list))}
	for i := range list {
		resp.Rooms = append(resp.Rooms, h.toResponse(&list[i]))
	}
	json.Write(w, http.StatusOK, resp)
}

func (h *Handler) writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		json.WriteCodedError(w, http.StatusNotFound, "RoomNotFound", "No room with that code")
	case errors.Is(err, domain.ErrRoomAlreadyStarted):
		json.WriteCodedError(w, http.StatusConflict, "RoomAlreadyStarted", "The game has already started")
	case errors.Is(err, domain.ErrInvalidTransition):
		json.WriteCodedError(w, http.StatusConflict, "InvalidTransition", err.Error())
	case errors.Is(err, domain.ErrRoomAlreadyExists):
		json.WriteCodedError(w, http.StatusServiceUnavailable, "NoFreeRoomCode", "Could not allocate a room code, try again")
	case errors.Is(err, domain.ErrInvalidInput):
		json.WriteValidationError(w, err)
	default:
		h.logger.Error(logging.RequestResponse, logging.API, "room directory failure", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w, err)
	}
}
