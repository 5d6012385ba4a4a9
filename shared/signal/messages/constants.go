package messages

// protocol constants, shared by the relay server and its clients
const (
	// WebSocketURLPath is the path the relay accepts websocket upgrades on. The root path is accepted too.
	WebSocketURLPath = "/ws"
	// HealthURLPath is the read-only status probe of the relay
	HealthURLPath = "/health"

	// CloseReasonSuperseded is sent to a connection evicted by a newer registration of the same identity
	CloseReasonSuperseded = "superseded"
	// CloseReasonUnresponsive is sent to a connection that missed a liveness probe
	CloseReasonUnresponsive = "unresponsive"
	// CloseReasonShutdown is sent to every connection when the relay stops
	CloseReasonShutdown = "shutdown"
)
