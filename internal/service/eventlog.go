package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devicesync/internal/models"
	"devicesync/internal/repository"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

// ErrInvalidFilter is returned for event filters that cannot be served.
var ErrInvalidFilter = errors.New("invalid event filter")

// EventFilter narrows the sync event log to a time window, an event type
// and/or a single device timeline. Limit keeps the newest events; zero
// means the default page size.
type EventFilter struct {
	From     time.Time
	To       time.Time
	Type     string
	DeviceID string
	Limit    int
}

// DeviceSet reports which device ids are configured.
type DeviceSet interface {
	Has(deviceID string) bool
}

// query validates f and turns it into a repository query.
func (f EventFilter) query(devices DeviceSet) (repository.EventQuery, error) {
	q := repository.EventQuery{
		Type:     strings.ToUpper(strings.TrimSpace(f.Type)),
		DeviceID: strings.TrimSpace(f.DeviceID),
		Limit:    f.Limit,
	}
	if !f.From.IsZero() {
		q.From = f.From.UTC()
	}
	if !f.To.IsZero() {
		q.To = f.To.UTC()
	}

	switch {
	case !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To):
		return q, fmt.Errorf("%w: from must not be after to", ErrInvalidFilter)
	case q.Type != "" && !models.KnownEventType(q.Type):
		return q, fmt.Errorf("%w: unknown event type %q", ErrInvalidFilter, q.Type)
	case q.Limit < 0:
		return q, fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	case q.DeviceID != "" && !devices.Has(q.DeviceID):
		return q, fmt.Errorf("%w: %s", ErrUnknownDevice, q.DeviceID)
	}

	if q.Limit == 0 {
		q.Limit = defaultEventLimit
	}
	q.Limit = min(q.Limit, maxEventLimit)
	return q, nil
}

// EventLogService reads the journal written by the sync core.
type EventLogService struct {
	eventRepo repository.EventRepo
	devices   DeviceSet
}

func NewEventLogService(eventRepo repository.EventRepo, devices DeviceSet) *EventLogService {
	return &EventLogService{eventRepo: eventRepo, devices: devices}
}

// List returns the newest events matching f, oldest first.
func (s *EventLogService) List(ctx context.Context, f EventFilter) ([]models.SyncEvent, error) {
	q, err := f.query(s.devices)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
