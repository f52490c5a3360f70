package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	MongoDB         Category = "MongoDB"
	RabbitMQ        Category = "RabbitMQ"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
	Realtime        Category = "Realtime"
	Session         Category = "Session"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"
	API             SubCategory = "API"
	Tracing         SubCategory = "Tracing"

	// Realtime
	Presence  SubCategory = "Presence"
	Broadcast SubCategory = "Broadcast"
	Gateway   SubCategory = "Gateway"
	Reconnect SubCategory = "Reconnect"

	// Session
	Round     SubCategory = "Round"
	Directory SubCategory = "Directory"
	Failover  SubCategory = "Failover"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	HostIp       ExtraKey = "HostIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	RequestBody  ExtraKey = "RequestBody"
	ResponseBody ExtraKey = "ResponseBody"
	ErrorMessage ExtraKey = "ErrorMessage"

	Topic     ExtraKey = "Topic"
	MemberID  ExtraKey = "MemberId"
	GameID    ExtraKey = "GameId"
	RoomCode  ExtraKey = "RoomCode"
	EventName ExtraKey = "Event"
	RoundNo   ExtraKey = "Round"
	RetryIn   ExtraKey = "RetryIn"
	Attempts  ExtraKey = "Attempts"
	Database  ExtraKey = "Database"
)
