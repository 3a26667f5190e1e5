package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"devicesync/internal/logger"
	"devicesync/internal/mapping"
	"devicesync/internal/models"
	"devicesync/internal/remote"
	"devicesync/internal/repository"
	"devicesync/internal/store"
	"devicesync/internal/transport"
)

var (
	ErrUnknownDevice    = mapping.ErrUnknownDevice
	ErrInvalidValue     = errors.New("invalid value: must be a finite number")
	ErrAlreadyConnected = transport.ErrAlreadyConnected
)

// Resolver is the device mapping as seen by the sync service.
type Resolver interface {
	Has(deviceID string) bool
	Entity(deviceID string) (string, error)
	FromRemote(deviceID string, x float64) (float64, error)
}

// Subscriber holds reference-counted backend watches per device.
type Subscriber interface {
	Subscribe(deviceID string, h transport.Handler) func()
}

type SyncService struct {
	store    *store.Store
	devices  Resolver
	exec     transport.Executor
	backend  remote.Backend
	snapshot repository.DeviceStateRepo
	subs     Subscriber
	log      *logger.Logger
}

func NewSyncService(st *store.Store, devices Resolver, exec transport.Executor, backend remote.Backend,
	snapshot repository.DeviceStateRepo, subs Subscriber, log *logger.Logger,
) *SyncService {
	return &SyncService{
		store:    st,
		devices:  devices,
		exec:     exec,
		backend:  backend,
		snapshot: snapshot,
		subs:     subs,
		log:      log,
	}
}

// SetValue records a user intent. The returned state is the optimistic one;
// the commit outcome arrives through Watch.
func (s *SyncService) SetValue(ctx context.Context, deviceID string, value float64) (models.DeviceState, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.DeviceState{}, ErrInvalidValue
	}
	if _, err := s.Device(ctx, deviceID); err != nil {
		return models.DeviceState{}, err
	}
	if err := s.store.SetIntent(deviceID, value, models.SourceUser); err != nil {
		return models.DeviceState{}, err
	}
	st, _ := s.store.Get(deviceID)
	s.log.Infow("intent_set", "device_id", deviceID, "value", value)
	return st, nil
}

// Device returns the state of deviceID, creating it on first access from
// the backend value. When the backend cannot be read the last persisted
// confirmed value seeds the record, and 0 when there is none.
func (s *SyncService) Device(ctx context.Context, deviceID string) (models.DeviceState, error) {
	if !s.devices.Has(deviceID) {
		return models.DeviceState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if st, ok := s.store.Get(deviceID); ok {
		return st, nil
	}

	initial, err := s.fetch(ctx, deviceID)
	if err != nil {
		s.log.Warnw("initial_fetch_failed", "device_id", deviceID, "err", err)
		initial = s.seed(ctx, deviceID)
	}
	st, _ := s.store.Ensure(deviceID, initial)
	return st, nil
}

func (s *SyncService) fetch(ctx context.Context, deviceID string) (float64, error) {
	entity, err := s.devices.Entity(deviceID)
	if err != nil {
		return 0, err
	}
	var rs models.RemoteState
	err = s.exec.Execute(ctx, "initial_read "+deviceID, func(ctx context.Context) error {
		var err error
		rs, err = s.backend.ReadState(ctx, entity)
		return err
	})
	if err != nil {
		return 0, err
	}
	return s.devices.FromRemote(deviceID, rs.Value)
}

func (s *SyncService) seed(ctx context.Context, deviceID string) float64 {
	st, found, err := s.snapshot.Load(ctx, deviceID)
	if err != nil {
		s.log.Errorw("device_state_load_failed", "device_id", deviceID, "err", err)
		return 0
	}
	if !found {
		return 0
	}
	return st.ConfirmedValue
}

func (s *SyncService) Devices(ctx context.Context) []models.DeviceState {
	return s.store.Snapshot()
}

// Watch calls fn with the current state of deviceID and then with every
// change until the returned cancel func is called. While at least one watch
// is held the device is subscribed on the backend.
func (s *SyncService) Watch(ctx context.Context, deviceID string, fn func(models.DeviceState)) (func(), error) {
	if _, err := s.Device(ctx, deviceID); err != nil {
		return nil, err
	}
	stopChanges := s.store.OnChange(func(st models.DeviceState) {
		if st.DeviceID == deviceID {
			fn(st)
		}
	})
	unsubscribe := s.subs.Subscribe(deviceID, func(u transport.Update) {
		s.log.Debugw("inbound_update", "device_id", u.DeviceID, "value", u.Value, "applied", u.Applied, "origin", u.Origin)
	})
	if st, ok := s.store.Get(deviceID); ok {
		fn(st)
	}
	return func() {
		unsubscribe()
		stopChanges()
	}, nil
}

// Reset returns every device to its defaults for a new session.
func (s *SyncService) Reset(ctx context.Context) {
	s.store.Reset()
}
