package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/models"
	"devicesync/internal/repository"
	"devicesync/internal/transport"
)

const journalWriteTimeout = 3 * time.Second

// journal records sync events and write-behind snapshots of confirmed
// values. It is the store's error reporter. Persistence failures are logged
// and never reach the synchronization core.
type journal struct {
	events repository.EventRepo
	states repository.DeviceStateRepo
	log    *logger.Logger

	mu    sync.Mutex
	saved map[string]float64
}

func newJournal(events repository.EventRepo, states repository.DeviceStateRepo, log *logger.Logger) *journal {
	return &journal{
		events: events,
		states: states,
		log:    log,
		saved:  make(map[string]float64),
	}
}

func (j *journal) append(ev models.SyncEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.events.Append(ctx, ev); err != nil {
		j.log.Errorw("sync_event_append_failed", "type", ev.Type, "device_id", ev.DeviceID, "err", err)
	}
}

func (j *journal) committed(deviceID string, value float64) {
	j.append(models.SyncEvent{
		Type:        models.EventCommit,
		DeviceID:    deviceID,
		Description: fmt.Sprintf("committed %g", value),
		Metadata:    map[string]any{"value": value},
	})
}

func (j *journal) reconciled(deviceID string, value float64) {
	j.append(models.SyncEvent{
		Type:        models.EventReconcile,
		DeviceID:    deviceID,
		Description: fmt.Sprintf("external change to %g", value),
		Metadata:    map[string]any{"value": value},
	})
}

// CommitFailed implements store.ErrorReporter.
func (j *journal) CommitFailed(deviceID string, attempted float64, st models.DeviceState, err error) {
	j.log.Errorw("commit_rolled_back",
		"device_id", deviceID,
		"attempted", attempted,
		"confirmed", st.ConfirmedValue,
		"pending", st.IsPending,
		"err", err,
	)
	j.append(models.SyncEvent{
		Type:        models.EventRollback,
		DeviceID:    deviceID,
		Description: err.Error(),
		Metadata: map[string]any{
			"attempted": attempted,
			"confirmed": st.ConfirmedValue,
			"pending":   st.IsPending,
		},
	})
}

func (j *journal) connection(oldState, newState transport.State, cs models.ConnectionState) {
	meta := map[string]any{"mode": cs.Mode, "reconnect_attempt": cs.ReconnectAttempt}
	if cs.LastError != "" {
		meta["last_error"] = cs.LastError
	}
	j.append(models.SyncEvent{
		Type:        models.EventConnection,
		Description: oldState.String() + " -> " + newState.String(),
		Metadata:    meta,
	})
}

func (j *journal) exhausted(err error) {
	j.append(models.SyncEvent{
		Type:        models.EventReconnectExhausted,
		Description: err.Error(),
	})
}

// persist saves the confirmed value of st when it differs from the last one
// saved for the device.
func (j *journal) persist(st models.DeviceState) {
	j.mu.Lock()
	last, ok := j.saved[st.DeviceID]
	if ok && last == st.ConfirmedValue {
		j.mu.Unlock()
		return
	}
	j.saved[st.DeviceID] = st.ConfirmedValue
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.states.Save(ctx, st); err != nil {
		j.log.Errorw("device_state_save_failed", "device_id", st.DeviceID, "err", err)
		j.mu.Lock()
		delete(j.saved, st.DeviceID)
		j.mu.Unlock()
	}
}
