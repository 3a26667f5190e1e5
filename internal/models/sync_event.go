package models

import "time"

// Sync event types persisted in the event log.
const (
	EventCommit             = "COMMIT"
	EventRollback           = "ROLLBACK"
	EventReconcile          = "RECONCILE"
	EventConnection         = "CONNECTION"
	EventReconnectExhausted = "RECONNECT_EXHAUSTED"
)

// SyncEvent is a single log entry.
type SyncEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"` // COMMIT | ROLLBACK | RECONCILE | CONNECTION | RECONNECT_EXHAUSTED
	DeviceID    string    `json:"device_id,omitempty"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}

// KnownEventType reports whether t is one of the logged event types.
func KnownEventType(t string) bool {
	switch t {
	case EventCommit, EventRollback, EventReconcile, EventConnection, EventReconnectExhausted:
		return true
	}
	return false
}
