package normalize

import (
	"path"
	"strings"

	"routined/internal/config"
	"routined/internal/health"
	"routined/internal/model"
)

// stateEquivalence maps domain vocabulary to the two semantic poles.
// Anything absent (numeric sensor values and the like) passes through.
var stateEquivalence = map[string]model.State{
	"on":       model.StatePositive,
	"true":     model.StatePositive,
	"detected": model.StatePositive,
	"open":     model.StatePositive,
	"unlocked": model.StatePositive,
	"home":     model.StatePositive,
	"off":      model.StateNegative,
	"false":    model.StateNegative,
	"clear":    model.StateNegative,
	"closed":   model.StateNegative,
	"locked":   model.StateNegative,
	"not_home": model.StateNegative,
}

// Normalizer runs the cleaning pipeline in strict step order. No step
// mutates events produced by an earlier step; each returns a fresh
// filtered collection.
type Normalizer struct {
	cfg    config.FilterConfig
	scorer *health.Scorer
}

func New(cfg config.FilterConfig, scorer *health.Scorer) *Normalizer {
	return &Normalizer{cfg: cfg, scorer: scorer}
}

// Run executes all six steps and returns per-day-type event pools.
// Vacation-day events are dropped from every pool.
func (n *Normalizer) Run(raw []model.RawEvent, grades map[string]model.EntityHealth, days []model.DayContext) map[model.DayType][]model.NormalizedEvent {
	kept := n.FilterStates(raw)
	kept = n.FilterHealth(kept, grades)
	kept = n.FilterExclusions(kept)
	events := n.NormalizeStates(kept, grades)
	events = TagOrigin(events, kept)
	return SegmentByDayType(events, days)
}

// FilterStates drops transitions whose old or new state is ignored
// (unavailable/unknown in either direction).
func (n *Normalizer) FilterStates(raw []model.RawEvent) []model.RawEvent {
	ignored := make(map[string]struct{}, len(n.cfg.IgnoredStates))
	for _, s := range n.cfg.IgnoredStates {
		ignored[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	out := make([]model.RawEvent, 0, len(raw))
	for _, ev := range raw {
		if _, bad := ignored[strings.ToLower(ev.OldState)]; bad {
			continue
		}
		if _, bad := ignored[strings.ToLower(ev.NewState)]; bad {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// FilterHealth drops events of unreliable entities. Flaky entities
// pass; their penalty is applied during state normalization.
func (n *Normalizer) FilterHealth(raw []model.RawEvent, grades map[string]model.EntityHealth) []model.RawEvent {
	if len(grades) == 0 {
		return raw
	}
	out := make([]model.RawEvent, 0, len(raw))
	for _, ev := range raw {
		if h, ok := grades[ev.EntityID]; ok && h.Grade == model.GradeUnreliable {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// FilterExclusions applies the user's exclusion configuration. A
// non-empty domain allow-list takes precedence over the excluded
// domain list: only listed domains pass.
func (n *Normalizer) FilterExclusions(raw []model.RawEvent) []model.RawEvent {
	entities := toSet(n.cfg.ExcludeEntities)
	areas := toSet(n.cfg.ExcludeAreas)
	domains := toSet(n.cfg.ExcludeDomains)
	allow := toSet(n.cfg.AllowDomains)

	out := make([]model.RawEvent, 0, len(raw))
	for _, ev := range raw {
		if _, bad := entities[ev.EntityID]; bad {
			continue
		}
		if _, bad := areas[ev.Area]; bad && ev.Area != "" {
			continue
		}
		if len(allow) > 0 {
			if _, ok := allow[ev.Domain]; !ok {
				continue
			}
		} else if _, bad := domains[ev.Domain]; bad {
			continue
		}
		if matchesGlob(ev.EntityID, n.cfg.ExcludeGlobs) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// NormalizeStates maps vocabulary to positive/negative and stamps the
// per-entity confidence multiplier.
func (n *Normalizer) NormalizeStates(raw []model.RawEvent, grades map[string]model.EntityHealth) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, 0, len(raw))
	for _, ev := range raw {
		mult := 1.0
		if n.scorer != nil {
			if h, ok := grades[ev.EntityID]; ok {
				mult = n.scorer.Penalty(h.Grade)
			}
		}
		out = append(out, model.NormalizedEvent{
			Timestamp:      ev.Timestamp,
			EntityID:       ev.EntityID,
			Domain:         ev.Domain,
			State:          NormalizeState(ev.NewState),
			RawState:       ev.NewState,
			Area:           ev.Area,
			Device:         ev.Device,
			ConfidenceMult: mult,
			Attributes:     ev.Attributes,
		})
	}
	return out
}

// NormalizeState maps one raw state to its semantic pole, or returns
// it unchanged when no equivalence applies.
func NormalizeState(raw string) string {
	if s, ok := stateEquivalence[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return string(s)
	}
	return raw
}

// TagOrigin marks is_manual on each event: manual means no originating
// automation or script context was present on the raw record. The raw
// slice must be index-aligned with the normalized one.
func TagOrigin(events []model.NormalizedEvent, raw []model.RawEvent) []model.NormalizedEvent {
	out := make([]model.NormalizedEvent, len(events))
	for i, ev := range events {
		ev.IsManual = i < len(raw) && strings.TrimSpace(raw[i].OriginContext) == ""
		out[i] = ev
	}
	return out
}

// SegmentByDayType partitions events into per-day-type pools and
// stamps each event with its day label. Vacation days are dropped
// entirely: both detection engines ignore them.
func SegmentByDayType(events []model.NormalizedEvent, days []model.DayContext) map[model.DayType][]model.NormalizedEvent {
	byDay := make(map[string]model.DayType, len(days))
	for _, d := range days {
		byDay[d.Date.Format("2006-01-02")] = d.Type
	}
	pools := make(map[model.DayType][]model.NormalizedEvent)
	for _, ev := range events {
		dt, ok := byDay[ev.Timestamp.Format("2006-01-02")]
		if !ok {
			continue
		}
		if dt == model.DayVacation {
			continue
		}
		ev.DayType = dt
		pools[dt] = append(pools[dt], ev)
	}
	return pools
}

func matchesGlob(entityID string, globs []string) bool {
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if ok, err := path.Match(g, entityID); err == nil && ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
