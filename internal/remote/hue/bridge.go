// Package hue adapts a Philips Hue bridge to remote.Backend. The bridge has
// no push channel, so devices behind it are always polled.
package hue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/models"
	"devicesync/internal/remote"

	"github.com/amimof/huego"
)

const maxBri = 254

// Bridge reads and writes light brightness through the Hue REST API.
type Bridge struct {
	bridge *huego.Bridge
	log    *logger.Logger
}

func New(host, user string, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{bridge: huego.New(host, user), log: log}
}

func (b *Bridge) ReadState(ctx context.Context, entityID string) (models.RemoteState, error) {
	id, err := lightID(entityID)
	if err != nil {
		return models.RemoteState{}, err
	}
	light, err := b.bridge.GetLightContext(ctx, id)
	if err != nil {
		return models.RemoteState{}, classify(fmt.Errorf("read light %s: %w", entityID, err))
	}
	return toRemoteState(entityID, light), nil
}

func (b *Bridge) WriteState(ctx context.Context, entityID string, value float64) (models.RemoteState, error) {
	id, err := lightID(entityID)
	if err != nil {
		return models.RemoteState{}, err
	}
	st := stateFor(value)
	if _, err := b.bridge.SetLightStateContext(ctx, id, st); err != nil {
		return models.RemoteState{}, classify(fmt.Errorf("write light %s: %w", entityID, err))
	}
	b.log.Debugw("hue_light_set", "light", entityID, "on", st.On, "bri", st.Bri)
	return models.RemoteState{
		EntityID:   entityID,
		Value:      brightness(st.On, st.Bri),
		Metadata:   map[string]any{"on": st.On},
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Subscribe always fails with remote.ErrPushUnsupported.
func (b *Bridge) Subscribe(context.Context) (remote.Stream, error) {
	return nil, remote.ErrPushUnsupported
}

func lightID(entityID string) (int, error) {
	id, err := strconv.Atoi(entityID)
	if err != nil || id <= 0 {
		return 0, remote.NewClientError(400, "invalid hue light id "+strconv.Quote(entityID))
	}
	return id, nil
}

func stateFor(value float64) huego.State {
	if value <= 0 {
		return huego.State{On: false}
	}
	bri := math.Round(math.Max(1, math.Min(value, maxBri)))
	return huego.State{On: true, Bri: uint8(bri)}
}

func brightness(on bool, bri uint8) float64 {
	if !on {
		return 0
	}
	return float64(bri)
}

func toRemoteState(entityID string, l *huego.Light) models.RemoteState {
	rs := models.RemoteState{EntityID: entityID, ReceivedAt: time.Now().UTC()}
	if l == nil || l.State == nil {
		return rs
	}
	rs.Value = brightness(l.State.On, l.State.Bri)
	rs.Metadata = map[string]any{
		"on":        l.State.On,
		"reachable": l.State.Reachable,
		"name":      l.Name,
	}
	return rs
}

// classify marks bridge-reported API errors as non-retryable; anything else
// (network, decode) stays transient.
func classify(err error) error {
	var apiErr *huego.APIError
	if errors.As(err, &apiErr) {
		return remote.AsClientError(err)
	}
	return err
}
