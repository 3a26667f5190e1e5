// Package mapping resolves UI device ids to backend entities and converts
// values between the device scale and the remote scale.
package mapping

import (
	"errors"
	"fmt"
	"math"

	"github.com/Knetic/govaluate"

	"devicesync/internal/config"
)

var (
	// ErrUnknownDevice is returned for ids absent from the mapping.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrConversion is returned when a formula fails or yields a non-finite
	// or non-numeric result.
	ErrConversion = errors.New("value conversion failed")
)

type device struct {
	id         string
	entityID   string
	toRemote   *govaluate.EvaluableExpression
	fromRemote *govaluate.EvaluableExpression
}

// Mapping is immutable after construction and safe for concurrent use.
type Mapping struct {
	byID     map[string]*device
	byEntity map[string]*device
	ids      []string
}

func New(devices []config.DeviceConfig) (*Mapping, error) {
	m := &Mapping{
		byID:     make(map[string]*device, len(devices)),
		byEntity: make(map[string]*device, len(devices)),
		ids:      make([]string, 0, len(devices)),
	}
	for _, dc := range devices {
		d := &device{id: dc.ID, entityID: dc.EntityID}
		var err error
		if d.toRemote, err = compile(dc.ToRemote); err != nil {
			return nil, fmt.Errorf("device %s: to_remote: %w", dc.ID, err)
		}
		if d.fromRemote, err = compile(dc.FromRemote); err != nil {
			return nil, fmt.Errorf("device %s: from_remote: %w", dc.ID, err)
		}
		if _, dup := m.byID[dc.ID]; dup {
			return nil, fmt.Errorf("device %s mapped twice", dc.ID)
		}
		if _, dup := m.byEntity[dc.EntityID]; dup {
			return nil, fmt.Errorf("entity %s mapped twice", dc.EntityID)
		}
		m.byID[d.id] = d
		m.byEntity[d.entityID] = d
		m.ids = append(m.ids, d.id)
	}
	return m, nil
}

func compile(formula string) (*govaluate.EvaluableExpression, error) {
	if formula == "" {
		return nil, nil
	}
	return govaluate.NewEvaluableExpression(formula)
}

// IDs returns the configured device ids in configuration order.
func (m *Mapping) IDs() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

func (m *Mapping) Has(deviceID string) bool {
	_, ok := m.byID[deviceID]
	return ok
}

// Entity returns the backend entity for a device id.
func (m *Mapping) Entity(deviceID string) (string, error) {
	d, ok := m.byID[deviceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return d.entityID, nil
}

// Device returns the device id mapped onto a backend entity.
func (m *Mapping) Device(entityID string) (string, bool) {
	d, ok := m.byEntity[entityID]
	if !ok {
		return "", false
	}
	return d.id, true
}

// ToRemote converts a device-scale value to the backend scale.
func (m *Mapping) ToRemote(deviceID string, x float64) (float64, error) {
	d, ok := m.byID[deviceID]
	if !ok {
		return x, nil
	}
	v, err := evaluate(d.toRemote, x)
	if err != nil {
		return 0, fmt.Errorf("device %s: to_remote(%v): %w", deviceID, x, err)
	}
	return v, nil
}

// FromRemote converts a backend-scale value to the device scale.
func (m *Mapping) FromRemote(deviceID string, x float64) (float64, error) {
	d, ok := m.byID[deviceID]
	if !ok {
		return x, nil
	}
	v, err := evaluate(d.fromRemote, x)
	if err != nil {
		return 0, fmt.Errorf("device %s: from_remote(%v): %w", deviceID, x, err)
	}
	return v, nil
}

func evaluate(expr *govaluate.EvaluableExpression, x float64) (float64, error) {
	if expr == nil {
		return x, nil
	}
	result, err := expr.Evaluate(map[string]interface{}{"x": x})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	v, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: result %v is not a number", ErrConversion, result)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: result %v is not finite", ErrConversion, v)
	}
	return v, nil
}
