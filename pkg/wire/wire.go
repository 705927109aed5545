// Package wire holds the event and method names shared between hapi-core's
// two services and the hub they talk to. Keeping them as named constants
// (rather than inline string literals scattered through socket/connection
// code) mirrors the teacher gateway's pkg/protocol package.
package wire

// Socket.IO namespace the machine agent authenticates into.
const Namespace = "/cli"

// Events emitted by the machine agent to the hub.
const (
	EventMachineUpdateState = "machine-update-state"
	EventMachineAlive       = "machine-alive"
	EventTunnelReady        = "tunnel:ready"
	EventTunnelData         = "tunnel:data"
	EventTunnelClose        = "tunnel:close"
	EventTunnelError        = "tunnel:error"
)

// Events received by the machine agent from the hub.
const (
	EventTunnelOpen = "tunnel:open"
)

// SSE event type discriminators sent by the hub's /api/events stream.
const (
	SSEMessageReceived   = "message-received"
	SSESessionUpdated    = "session-updated"
	SSESessionRemoved    = "session-removed"
	SSEConnectionChanged = "connection-changed"
)

// RunnerStatus values accepted by machine-update-state.
const (
	RunnerStatusRunning = "running"
)

// ClientType identifies a machine-scoped socket connection during auth.
const ClientTypeMachineScoped = "machine-scoped"
