package service

import (
	"context"
	"fmt"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/debounce"
	"devicesync/internal/executor"
	"devicesync/internal/logger"
	"devicesync/internal/mapping"
	"devicesync/internal/models"
	"devicesync/internal/reconcile"
	"devicesync/internal/remote"
	"devicesync/internal/repository"
	"devicesync/internal/store"
	"devicesync/internal/transport"
)

// Sync exposes the device-facing operations: set intent, read state, watch.
type Sync interface {
	SetValue(ctx context.Context, deviceID string, value float64) (models.DeviceState, error)
	Device(ctx context.Context, deviceID string) (models.DeviceState, error)
	Devices(ctx context.Context) []models.DeviceState
	Watch(ctx context.Context, deviceID string, fn func(models.DeviceState)) (func(), error)
	Reset(ctx context.Context)
}

// Connection exposes the transport lifecycle.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	State(ctx context.Context) models.ConnectionState
}

// EventLog exposes append-only sync events with filtering access.
type EventLog interface {
	List(ctx context.Context, f EventFilter) ([]models.SyncEvent, error)
}

// Service aggregates all sub-services.
type Service struct {
	Sync
	Connection
	EventLog

	supervisor *transport.Supervisor
	debouncer  *debounce.Debouncer
}

// NewService wires the synchronization core around backend and the
// repository layer.
func NewService(cfg *config.Config, backend remote.Backend, repos *repository.Repository, log *logger.Logger, opts ...executor.Option) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	devices, err := mapping.New(cfg.Devices)
	if err != nil {
		return nil, fmt.Errorf("device mapping: %w", err)
	}

	exec := executor.New(executor.Config{
		MaxAttempts: cfg.Executor.MaxRetries,
		BaseDelay:   cfg.Executor.BaseRetryDelay,
	}, log.Named("executor"), opts...)

	journal := newJournal(repos.EventRepo, repos.StateRepo, log.Named("journal"))

	commit := func(ctx context.Context, deviceID string, value float64) error {
		entity, err := devices.Entity(deviceID)
		if err != nil {
			return remote.AsClientError(err)
		}
		remoteValue, err := devices.ToRemote(deviceID, value)
		if err != nil {
			return remote.AsClientError(err)
		}
		err = exec.Execute(ctx, "write_state", func(ctx context.Context) error {
			_, err := backend.WriteState(ctx, entity, remoteValue)
			return err
		})
		if err == nil {
			journal.committed(deviceID, value)
		}
		return err
	}
	debouncer := debounce.New(debounce.Config{
		Delay:     cfg.Sync.Debounce,
		LargeJump: cfg.Sync.LargeJump,
	}, commit, log.Named("debounce"))

	st := store.New(debouncer, log.Named("store"), store.WithErrorReporter(journal))
	st.OnChange(journal.persist)

	policy := reconcile.New(reconcile.ConfigFrom(cfg.Sync), st, log.Named("reconcile"))
	sink := func(deviceID string, value float64) bool {
		applied := policy.Accept(deviceID, value)
		if applied {
			journal.reconciled(deviceID, value)
		}
		return applied
	}

	sup := transport.NewSupervisor(transport.ConfigFrom(cfg.Transport), backend, exec, devices, sink, log.Named("transport"))
	sup.OnStateChange(func(oldState, newState transport.State) {
		journal.connection(oldState, newState, sup.State())
	})
	sup.OnReconnecting(func(attempt int, delay time.Duration) {
		log.Infow("reconnect_scheduled", "attempt", attempt, "delay_ms", delay.Milliseconds())
	})
	sup.OnError(journal.exhausted)

	return &Service{
		Sync:       NewSyncService(st, devices, exec, backend, repos.StateRepo, sup, log.Named("sync")),
		Connection: NewConnectionService(sup),
		EventLog:   NewEventLogService(repos.EventRepo, devices),
		supervisor: sup,
		debouncer:  debouncer,
	}, nil
}

// Close tears the transport down and drops queued commits.
func (s *Service) Close() {
	s.debouncer.CancelAll()
	s.supervisor.Close()
}
