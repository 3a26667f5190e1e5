package models

import "time"

// Source records where the most recent change of a device value came from.
type Source string

const (
	SourceInitial  Source = "initial"
	SourceUser     Source = "user"
	SourceExternal Source = "external"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceInitial, SourceUser, SourceExternal:
		return true
	default:
		return false
	}
}

// DeviceState is the synchronized view of one controllable device.
type DeviceState struct {
	DeviceID           string    `json:"device_id"`
	TargetValue        float64   `json:"target_value"`    // intent the UI displays/animates toward
	DisplayValue       float64   `json:"display_value"`   // value actually rendered
	ConfirmedValue     float64   `json:"confirmed_value"` // last value known to be held remotely
	IsPending          bool      `json:"is_pending"`
	Source             Source    `json:"source"`
	LastManualChangeAt time.Time `json:"last_manual_change_at,omitempty"`
	LastCommitAt       time.Time `json:"last_commit_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewDeviceState returns a record whose values all equal initial.
func NewDeviceState(deviceID string, initial float64, now time.Time) DeviceState {
	return DeviceState{
		DeviceID:       deviceID,
		TargetValue:    initial,
		DisplayValue:   initial,
		ConfirmedValue: initial,
		Source:         SourceInitial,
		UpdatedAt:      now,
	}
}
