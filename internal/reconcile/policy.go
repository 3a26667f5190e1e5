// Package reconcile decides whether an inbound update may overwrite the
// locally held device state. Every push event and poll result goes through
// Policy.Accept.
package reconcile

import (
	"math"
	"time"

	"devicesync/internal/config"
	"devicesync/internal/logger"
	"devicesync/internal/models"
)

// Verdict is the outcome of evaluating one inbound value.
type Verdict int

const (
	Applied Verdict = iota
	RejectedPending
	RejectedManualChange
	RejectedRecentCommit
	Unchanged
)

func (v Verdict) String() string {
	switch v {
	case Applied:
		return "applied"
	case RejectedPending:
		return "rejected_pending"
	case RejectedManualChange:
		return "rejected_manual_change"
	case RejectedRecentCommit:
		return "rejected_recent_commit"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Store is the state store as seen by the policy.
type Store interface {
	Ensure(deviceID string, initial float64) (models.DeviceState, bool)
	Update(deviceID string, fn func(st *models.DeviceState) bool) (models.DeviceState, bool)
}

type Config struct {
	SuppressionWindow time.Duration
	SettleWindow      time.Duration
	Epsilon           float64
}

// ConfigFrom extracts the policy tunables from the service configuration.
func ConfigFrom(c config.SyncConfig) Config {
	return Config{
		SuppressionWindow: c.SuppressionWindow,
		SettleWindow:      c.SettleWindow,
		Epsilon:           c.Epsilon,
	}
}

type Policy struct {
	cfg   Config
	store Store
	now   func() time.Time
	log   *logger.Logger
}

func New(cfg Config, store Store, log *logger.Logger) *Policy {
	if log == nil {
		log = logger.Nop()
	}
	return &Policy{cfg: cfg, store: store, now: time.Now, log: log}
}

// WithClock replaces time.Now; for tests.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Decide evaluates inbound against st at time now without mutating anything.
func (p *Policy) Decide(st models.DeviceState, inbound float64, now time.Time) Verdict {
	switch {
	case st.IsPending:
		return RejectedPending
	case !st.LastManualChangeAt.IsZero() && now.Sub(st.LastManualChangeAt) < p.cfg.SuppressionWindow:
		return RejectedManualChange
	case !st.LastCommitAt.IsZero() && now.Sub(st.LastCommitAt) < p.cfg.SettleWindow:
		return RejectedRecentCommit
	case math.Abs(inbound-st.ConfirmedValue) <= p.cfg.Epsilon:
		return Unchanged
	default:
		return Applied
	}
}

// Accept applies inbound to the device record unless suppressed and reports
// whether it did. A device seen for the first time is created from inbound.
func (p *Policy) Accept(deviceID string, inbound float64) bool {
	if _, created := p.store.Ensure(deviceID, inbound); created {
		p.log.Debugw("reconcile_created", "device_id", deviceID, "value", inbound)
		return false
	}

	now := p.now()
	verdict := Unchanged
	p.store.Update(deviceID, func(st *models.DeviceState) bool {
		verdict = p.Decide(*st, inbound, now)
		if verdict != Applied {
			return false
		}
		st.ConfirmedValue = inbound
		st.TargetValue = inbound
		st.DisplayValue = inbound
		st.Source = models.SourceExternal
		return true
	})

	if verdict != Applied {
		p.log.Debugw("reconcile_suppressed", "device_id", deviceID, "value", inbound, "verdict", verdict.String())
		return false
	}
	p.log.Debugw("reconcile_applied", "device_id", deviceID, "value", inbound)
	return true
}
