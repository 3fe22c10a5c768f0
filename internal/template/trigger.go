package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"routined/internal/model"
)

// buildTrigger selects the trigger by the trigger entity's domain,
// never from chain timing (timing is condition material). Both type
// keys are populated so downstream comparison matches either spelling.
func buildTrigger(entityID, chainState string, debounce time.Duration) model.Trigger {
	domain := entityDomain(entityID)
	switch {
	case domain == "binary_sensor":
		return typed(model.Trigger{
			EntityID: entityID,
			To:       deviceState(domain, chainState),
			For:      formatDuration(debounce),
		}, "state")
	case domain == "sensor":
		if v, err := strconv.ParseFloat(chainState, 64); err == nil {
			above := v
			return typed(model.Trigger{EntityID: entityID, Above: &above}, "numeric_state")
		}
		return typed(model.Trigger{EntityID: entityID, To: chainState}, "state")
	case domain == "person" || domain == "device_tracker":
		event := "enter"
		if chainState == string(model.StateNegative) {
			event = "leave"
		}
		return typed(model.Trigger{EntityID: entityID, Zone: "zone.home", Event: event}, "zone")
	case domain == "sun" || strings.HasPrefix(entityID, "sun."):
		event := "sunset"
		if chainState == string(model.StatePositive) {
			event = "sunrise"
		}
		return typed(model.Trigger{Event: event}, "sun")
	default:
		return typed(model.Trigger{
			EntityID: entityID,
			To:       deviceState(domain, chainState),
		}, "state")
	}
}

func typed(t model.Trigger, kind string) model.Trigger {
	t.Platform = kind
	t.Trigger = kind
	return t
}

// deviceState maps a semantic pole back to the vocabulary the entity's
// domain actually reports. Unrecognized states pass through raw; all
// values stay strings so boolean-looking literals never become native
// booleans.
func deviceState(domain, state string) string {
	pole := model.State(state)
	if pole != model.StatePositive && pole != model.StateNegative {
		return state
	}
	positive := pole == model.StatePositive
	switch domain {
	case "lock":
		if positive {
			return "unlocked"
		}
		return "locked"
	case "cover":
		if positive {
			return "open"
		}
		return "closed"
	case "person", "device_tracker":
		if positive {
			return "home"
		}
		return "not_home"
	default:
		if positive {
			return "on"
		}
		return "off"
	}
}

func entityDomain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return entityID
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
