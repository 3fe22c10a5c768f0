package template

import (
	"time"

	"routined/internal/graph"
	"routined/internal/model"
)

// buildActions turns the detection's action entities into service
// calls. Area-level targeting wins when every entity of a domain
// shares one resolved area; consistent attribute values observed
// across supporting events ride along as service data.
func buildActions(det *model.DetectionResult, snap *graph.Snapshot, attrs map[string]map[string]any, debounce time.Duration) []model.Action {
	var out []model.Action

	// A noticeable wait between trigger and action is reproduced as an
	// explicit delay step.
	if delay := actionDelay(det, debounce); delay != "" {
		out = append(out, model.Action{Delay: delay})
	}

	byService := make(map[string][]string)
	var serviceOrder []string
	for _, entity := range det.ActionEntities {
		svc := serviceFor(entity, finalState(det, entity))
		if _, seen := byService[svc]; !seen {
			serviceOrder = append(serviceOrder, svc)
		}
		byService[svc] = append(byService[svc], entity)
	}

	for _, svc := range serviceOrder {
		entities := byService[svc]
		action := model.Action{Service: svc, Target: buildTarget(entities, snap)}
		if data := consistentData(entities, attrs); len(data) > 0 {
			action.Data = data
		}
		out = append(out, action)
	}
	return out
}

// buildTarget prefers one area id over an explicit entity list, but
// only when every entity resolves to the same area.
func buildTarget(entities []string, snap *graph.Snapshot) model.Target {
	if snap != nil && len(entities) > 1 {
		area := snap.Area(entities[0])
		if area != "" {
			same := true
			for _, e := range entities[1:] {
				if snap.Area(e) != area {
					same = false
					break
				}
			}
			if same {
				return model.Target{AreaID: area}
			}
		}
	}
	return model.Target{EntityID: entities}
}

// serviceFor picks the platform service from the entity's domain and
// the state the behavior drives it to.
func serviceFor(entityID, state string) string {
	domain := entityDomain(entityID)
	positive := state != string(model.StateNegative) && deviceState(domain, state) != "off" &&
		deviceState(domain, state) != "locked" && deviceState(domain, state) != "closed"
	switch domain {
	case "lock":
		if positive {
			return "lock.unlock"
		}
		return "lock.lock"
	case "cover":
		if positive {
			return "cover.open_cover"
		}
		return "cover.close_cover"
	case "notify":
		return "notify.send_message"
	case "scene":
		return "scene.turn_on"
	case "script":
		return entityID
	default:
		if positive {
			return domain + ".turn_on"
		}
		return domain + ".turn_off"
	}
}

func finalState(det *model.DetectionResult, entity string) string {
	for i := len(det.Chain) - 1; i >= 0; i-- {
		if det.Chain[i].EntityID == entity {
			return det.Chain[i].State
		}
	}
	return string(model.StatePositive)
}

// actionDelay returns a delay string when the observed gap between the
// trigger link and the first action link is well past the debounce.
func actionDelay(det *model.DetectionResult, debounce time.Duration) string {
	var triggerOff, actionOff float64
	found := false
	for _, link := range det.Chain {
		if link.EntityID == det.TriggerEntity {
			triggerOff = link.OffsetSec
			found = true
		}
	}
	if !found || len(det.ActionEntities) == 0 {
		return ""
	}
	for _, link := range det.Chain {
		if link.EntityID == det.ActionEntities[0] {
			actionOff = link.OffsetSec
		}
	}
	gap := time.Duration(actionOff-triggerOff) * time.Second
	if gap <= debounce || gap < 30*time.Second {
		return ""
	}
	return formatDuration(gap)
}

// consistentData merges attributes that held the same value across the
// supporting observations of every targeted entity.
func consistentData(entities []string, attrs map[string]map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, e := range entities {
		for k, v := range attrs[e] {
			if prev, seen := out[k]; seen && prev != v {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ExtractConsistentAttributes finds attribute values that repeat across
// at least the given share of an entity's supporting events, e.g. a
// brightness always set to the same level.
func ExtractConsistentAttributes(events []model.NormalizedEvent, entity string, minShare float64) map[string]any {
	if minShare <= 0 {
		minShare = 0.9
	}
	total := 0
	counts := make(map[string]map[any]int)
	for _, ev := range events {
		if ev.EntityID != entity || len(ev.Attributes) == 0 {
			continue
		}
		total++
		for k, v := range ev.Attributes {
			switch v.(type) {
			case string, float64, int, bool:
			default:
				continue
			}
			if counts[k] == nil {
				counts[k] = make(map[any]int)
			}
			counts[k][v]++
		}
	}
	if total == 0 {
		return nil
	}
	out := make(map[string]any)
	for k, values := range counts {
		for v, c := range values {
			if float64(c)/float64(total) >= minShare {
				out[k] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
