package homeassistant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"devicesync/internal/models"
	"devicesync/internal/remote"
)

const maxBrightness = 255.0

func entityDomain(entityID string) string {
	return strings.SplitN(entityID, ".", 2)[0]
}

// stateValue extracts the controllable value of an entity, keyed by domain.
func stateValue(st haState) (float64, error) {
	switch entityDomain(st.EntityID) {
	case "light":
		if st.State != "on" {
			return 0, nil
		}
		if bri, ok := attrFloat(st.Attributes, "brightness"); ok {
			return bri, nil
		}
		return maxBrightness, nil
	case "cover":
		if pos, ok := attrFloat(st.Attributes, "current_position"); ok {
			return pos, nil
		}
		if st.State == "closed" {
			return 0, nil
		}
		return 100, nil
	case "climate":
		if temp, ok := attrFloat(st.Attributes, "temperature"); ok {
			return temp, nil
		}
	case "fan":
		if pct, ok := attrFloat(st.Attributes, "percentage"); ok {
			return pct, nil
		}
	}
	switch st.State {
	case "on", "open":
		return 1, nil
	case "off", "closed":
		return 0, nil
	}
	v, err := strconv.ParseFloat(st.State, 64)
	if err != nil {
		return 0, fmt.Errorf("entity %s: non-numeric state %q", st.EntityID, st.State)
	}
	return v, nil
}

func attrFloat(attrs map[string]any, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func toRemoteState(st haState) (models.RemoteState, error) {
	v, err := stateValue(st)
	if err != nil {
		return models.RemoteState{}, err
	}
	meta := map[string]any{"state": st.State}
	if name, ok := st.Attributes["friendly_name"].(string); ok {
		meta["friendly_name"] = name
	}
	return models.RemoteState{
		EntityID:   st.EntityID,
		Value:      v,
		Metadata:   meta,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

type serviceCall struct {
	domain  string
	service string
	payload map[string]any
}

// serviceFor picks the Home Assistant service that sets value on entityID.
func serviceFor(entityID string, value float64) (serviceCall, error) {
	call := serviceCall{
		domain:  entityDomain(entityID),
		payload: map[string]any{"entity_id": entityID},
	}
	switch call.domain {
	case "light":
		if value <= 0 {
			call.service = "turn_off"
			break
		}
		call.service = "turn_on"
		call.payload["brightness"] = int(math.Round(math.Min(value, maxBrightness)))
	case "cover":
		call.service = "set_cover_position"
		call.payload["position"] = int(math.Round(math.Max(0, math.Min(value, 100))))
	case "climate":
		call.service = "set_temperature"
		call.payload["temperature"] = value
	case "fan":
		call.service = "set_percentage"
		call.payload["percentage"] = int(math.Round(value))
	case "input_number", "number":
		call.service = "set_value"
		call.payload["value"] = value
	default:
		return serviceCall{}, remote.NewClientError(400, "unsupported entity domain "+call.domain)
	}
	return call, nil
}
