package models

import "time"

// RemoteState is a device value as reported by the backend.
type RemoteState struct {
	EntityID   string         `json:"entity_id"`
	Value      float64        `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}
