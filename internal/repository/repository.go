package repository

import (
	"context"
	"database/sql"
	"time"

	"devicesync/internal/models"
)

// DeviceStateRepo keeps the last confirmed value of every device.
type DeviceStateRepo interface {
	Save(ctx context.Context, s models.DeviceState) error
	Load(ctx context.Context, deviceID string) (models.DeviceState, bool, error)
	LoadAll(ctx context.Context) ([]models.DeviceState, error)
}

// EventQuery selects sync events. Zero fields do not filter.
type EventQuery struct {
	From     time.Time // inclusive
	To       time.Time // inclusive
	Type     string
	DeviceID string
	Limit    int // keep only the newest Limit events when > 0
}

// EventRepo is the append-only sync event log. List returns oldest first.
type EventRepo interface {
	Append(ctx context.Context, e models.SyncEvent) error
	List(ctx context.Context, q EventQuery) ([]models.SyncEvent, error)
}

type Repository struct {
	StateRepo DeviceStateRepo
	EventRepo EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		StateRepo: NewStateSQLite(db),
		EventRepo: NewEventSQLite(db),
	}
}
