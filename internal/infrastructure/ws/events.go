package ws

// Client to server frame types.
const (
	TrackFrame     = "track"
	UntrackFrame   = "untrack"
	BroadcastFrame = "broadcast"
	LeaveFrame     = "leave"
)

// Server to client frame types.
const (
	PresenceStateFrame = "presence_state"
	PresenceJoinFrame  = "presence_join"
	PresenceLeaveFrame = "presence_leave"
	StatusFrame        = "status"
	ErrorFrame         = "error"
)

// Error codes carried by error frames.
const (
	CodeRateLimited     = "rate_limited"
	CodeProfanity       = "profanity"
	CodeInvalidFrame    = "invalid_frame"
	CodeInvalidPresence = "invalid_presence"
	CodeTransport       = "transport"
)
