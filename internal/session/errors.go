package session

import "errors"

var (
	ErrNotHost       = errors.New("only the host can do that")
	ErrSessionClosed = errors.New("session closed")
	ErrInvalidPhase  = errors.New("not allowed in the current phase")
	ErrNoContent     = errors.New("no round content source")
)
