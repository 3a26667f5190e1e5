package models

// ConnectionMode is the process-wide transport mode reported to clients.
type ConnectionMode string

const (
	ModeDisconnected  ConnectionMode = "disconnected"
	ModeConnecting    ConnectionMode = "connecting"
	ModeConnectedPush ConnectionMode = "connected-push"
	ModeConnectedPoll ConnectionMode = "connected-poll"
)

// ConnectionState is a snapshot of the transport.
type ConnectionState struct {
	Mode             ConnectionMode `json:"mode"`
	ReconnectAttempt int            `json:"reconnect_attempt"`
	LastError        string         `json:"last_error,omitempty"`
}
