// Package store holds the per-device synchronized state and implements the
// optimistic update protocol: local intents apply at once, commits confirm
// them, failed commits roll them back.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/models"
)

var ErrInvalidSource = errors.New("invalid change source")

// Scheduler is the commit debouncer as seen by the store.
type Scheduler interface {
	Schedule(deviceID string, previous, value float64)
	Pending(deviceID string) bool
	CancelAll()
	OnResult(fn func(deviceID string, value float64, err error))
}

// ErrorReporter is the surface failed commits are reported to. state is the
// record after the rollback (or unchanged when a newer intent was queued).
type ErrorReporter interface {
	CommitFailed(deviceID string, attempted float64, state models.DeviceState, err error)
}

// Listener observes every mutation of a record.
type Listener func(models.DeviceState)

type Store struct {
	sched    Scheduler
	reporter ErrorReporter
	now      func() time.Time
	log      *logger.Logger

	mu     sync.Mutex
	states map[string]*models.DeviceState

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextL     uint64
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(s *Store) { s.reporter = r }
}

// New builds a store and registers it for the scheduler's commit results.
func New(sched Scheduler, log *logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		sched:     sched,
		now:       time.Now,
		log:       log,
		states:    make(map[string]*models.DeviceState),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	sched.OnResult(s.resolve)
	return s
}

// OnChange registers l and returns a func that removes it. Listeners run
// outside the store lock, in mutation order per goroutine.
func (s *Store) OnChange(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextL++
	id := s.nextL
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(st models.DeviceState) {
	s.lmu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.RUnlock()
	for _, l := range ls {
		l(st)
	}
}

// Ensure returns the record of deviceID, creating it seeded with initial
// when absent. created reports whether this call created it.
func (s *Store) Ensure(deviceID string, initial float64) (st models.DeviceState, created bool) {
	s.mu.Lock()
	rec, ok := s.states[deviceID]
	if !ok {
		fresh := models.NewDeviceState(deviceID, initial, s.now())
		rec = &fresh
		s.states[deviceID] = rec
	}
	st = *rec
	s.mu.Unlock()

	if !ok {
		s.notify(st)
	}
	return st, !ok
}

func (s *Store) Get(deviceID string) (models.DeviceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[deviceID]
	if !ok {
		return models.DeviceState{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every record ordered by device id.
func (s *Store) Snapshot() []models.DeviceState {
	s.mu.Lock()
	out := make([]models.DeviceState, 0, len(s.states))
	for _, rec := range s.states {
		out = append(out, *rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// SetIntent applies value optimistically. A user intent marks the record
// pending and hands the value to the scheduler; completion is observed
// through OnChange.
func (s *Store) SetIntent(deviceID string, value float64, source models.Source) error {
	if !source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	now := s.now()

	s.mu.Lock()
	rec, ok := s.states[deviceID]
	if !ok {
		fresh := models.NewDeviceState(deviceID, 0, now)
		rec = &fresh
		s.states[deviceID] = rec
	}
	previous := rec.TargetValue
	rec.TargetValue = value
	rec.DisplayValue = value
	rec.Source = source
	rec.UpdatedAt = now
	if source == models.SourceUser {
		rec.IsPending = true
		rec.LastManualChangeAt = now
		s.sched.Schedule(deviceID, previous, value)
	}
	st := *rec
	s.mu.Unlock()

	s.notify(st)
	return nil
}

// Update runs fn on the record of deviceID under the store lock; when fn
// reports a change the record is stamped and listeners are notified. It is
// the write path of the reconciliation policy.
func (s *Store) Update(deviceID string, fn func(st *models.DeviceState) bool) (models.DeviceState, bool) {
	s.mu.Lock()
	rec, ok := s.states[deviceID]
	if !ok {
		s.mu.Unlock()
		return models.DeviceState{}, false
	}
	changed := fn(rec)
	if changed {
		rec.UpdatedAt = s.now()
	}
	st := *rec
	s.mu.Unlock()

	if changed {
		s.notify(st)
	}
	return st, changed
}

// Reset returns every record to its defaults and drops queued commits.
// Records are kept; commits already running still report their outcome.
func (s *Store) Reset() {
	now := s.now()

	s.mu.Lock()
	s.sched.CancelAll()
	reset := make([]models.DeviceState, 0, len(s.states))
	for id, rec := range s.states {
		*rec = models.NewDeviceState(id, 0, now)
		reset = append(reset, *rec)
	}
	s.mu.Unlock()

	for _, st := range reset {
		s.notify(st)
	}
	s.log.Infow("store_reset", "devices", len(reset))
}

// resolve routes a commit outcome into the record. A newer intent still
// queued for the device keeps the record pending and skips the rollback.
func (s *Store) resolve(deviceID string, value float64, err error) {
	now := s.now()

	s.mu.Lock()
	rec, ok := s.states[deviceID]
	if !ok {
		s.mu.Unlock()
		return
	}
	queued := s.sched.Pending(deviceID)
	if err == nil {
		rec.ConfirmedValue = value
		rec.LastCommitAt = now
		if !queued {
			rec.IsPending = false
		}
	} else if !queued {
		rec.TargetValue = rec.ConfirmedValue
		rec.DisplayValue = rec.ConfirmedValue
		rec.IsPending = false
	}
	rec.UpdatedAt = now
	st := *rec
	s.mu.Unlock()

	s.notify(st)
	if err != nil {
		s.log.Warnw("commit_failed", "device_id", deviceID, "value", value, "rolled_back", !queued, "err", err)
		if s.reporter != nil {
			s.reporter.CommitFailed(deviceID, value, st, err)
		}
		return
	}
	s.log.Debugw("commit_confirmed", "device_id", deviceID, "value", value, "pending", st.IsPending)
}
