// Package debounce coalesces rapid local intents into one remote commit per
// device after a quiet period.
package debounce

import (
	"context"
	"math"
	"sync"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/logger"
)

// CommitFunc writes value for deviceID to the backend.
type CommitFunc func(ctx context.Context, deviceID string, value float64) error

// ResultFunc observes the outcome of every commit.
type ResultFunc func(deviceID string, value float64, err error)

type Config struct {
	Delay     time.Duration
	LargeJump float64
}

type entry struct {
	timer     *time.Timer
	seq       uint64
	value     float64
	armed     bool // timer running
	inflight  bool // commit running or its result being reported
	reporting bool // result callback running
	dirty     bool // a value became due while the device was in flight
}

// Debouncer keeps one cancellable timer per device. A new Schedule replaces
// the outstanding timer, and when it fires the latest scheduled value is
// committed. At most one commit per device runs at a time.
type Debouncer struct {
	cfg    Config
	commit CommitFunc
	ctx    context.Context
	log    *logger.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	onResult ResultFunc
}

func New(cfg Config, commit CommitFunc, log *logger.Logger) *Debouncer {
	if cfg.Delay < 0 {
		cfg.Delay = config.DefaultDebounce
	}
	if cfg.LargeJump <= 0 {
		cfg.LargeJump = config.DefaultLargeJump
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Debouncer{
		cfg:     cfg,
		commit:  commit,
		ctx:     context.Background(),
		log:     log,
		entries: make(map[string]*entry),
	}
}

// OnResult sets the callback that receives every commit outcome. While it
// runs, Pending already reflects any follow-up commit for the device.
func (d *Debouncer) OnResult(fn func(deviceID string, value float64, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = fn
}

// Delay is the adaptive quiet period: a jump larger than LargeJump commits
// immediately, anything smaller waits the configured delay.
func (d *Debouncer) Delay(previous, value float64) time.Duration {
	if math.Abs(value-previous) > d.cfg.LargeJump {
		return 0
	}
	return d.cfg.Delay
}

// Schedule queues value for deviceID, cancelling any outstanding timer.
func (d *Debouncer) Schedule(deviceID string, previous, value float64) {
	delay := d.Delay(previous, value)

	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[deviceID]
	if !ok {
		e = &entry{}
		d.entries[deviceID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.seq++
	e.value = value
	e.armed = true
	seq := e.seq
	e.timer = time.AfterFunc(delay, func() { d.fire(deviceID, seq) })
	d.log.Debugw("commit_scheduled", "device_id", deviceID, "value", value, "delay_ms", delay.Milliseconds())
}

// Pending reports whether a commit for deviceID is queued or running.
func (d *Debouncer) Pending(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[deviceID]
	return ok && (e.armed || e.dirty || (e.inflight && !e.reporting))
}

// Cancel drops the queued commit of deviceID. A running commit still
// completes and reports its result.
func (d *Debouncer) Cancel(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[deviceID]; ok {
		d.cancelLocked(e)
	}
}

// CancelAll drops every queued commit.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		d.cancelLocked(e)
	}
}

func (d *Debouncer) cancelLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
	e.armed = false
	e.dirty = false
}

func (d *Debouncer) fire(deviceID string, seq uint64) {
	d.mu.Lock()
	e, ok := d.entries[deviceID]
	if !ok || e.seq != seq || !e.armed {
		d.mu.Unlock()
		return
	}
	e.armed = false
	e.timer = nil
	if e.inflight {
		e.dirty = true
		d.mu.Unlock()
		return
	}
	e.inflight = true
	value := e.value
	d.mu.Unlock()

	d.run(deviceID, value)
}

// run commits value and keeps going while newer values became due during
// the commit or while its result was being reported. The device stays in
// flight until the callback returns, so results arrive in commit order.
func (d *Debouncer) run(deviceID string, value float64) {
	for {
		d.log.Debugw("commit_started", "device_id", deviceID, "value", value)
		err := d.commit(d.ctx, deviceID, value)

		d.mu.Lock()
		e := d.entries[deviceID]
		e.reporting = true
		cb := d.onResult
		d.mu.Unlock()

		if cb != nil {
			cb(deviceID, value, err)
		}

		d.mu.Lock()
		e.reporting = false
		if !e.dirty {
			e.inflight = false
			d.mu.Unlock()
			return
		}
		e.dirty = false
		value = e.value
		d.mu.Unlock()
	}
}
