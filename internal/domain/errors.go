package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomAlreadyExists  = errors.New("room already exists")
	ErrRoomAlreadyStarted = errors.New("room already started")
	ErrInvalidTransition  = errors.New("invalid room status transition")

	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrMalformedBroadcast    = errors.New("malformed broadcast")
)
