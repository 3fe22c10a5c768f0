package template

import (
	"time"

	"routined/internal/analyze"
	"routined/internal/config"
	"routined/internal/model"
)

var weekdayNames = map[model.DayType][]string{
	model.DayWorkday:      {"mon", "tue", "wed", "thu", "fri"},
	model.DayWorkFromHome: {"mon", "tue", "wed", "thu", "fri"},
	model.DayWeekend:      {"sat", "sun"},
	model.DayHoliday:      {"sat", "sun"},
}

// conditionContext carries the correlation signals the generator
// computed for this detection.
type conditionContext struct {
	window             analyze.AdaptiveWindow
	spreadCeiling      time.Duration
	lightCorrelated    bool
	illuminanceBelow   *float64
	presenceCorrelated bool
}

// buildConditions is additive: each clause is appended only when the
// underlying signal supports it. Earlier chain links become state
// preconditions; they are never promoted to triggers.
func buildConditions(det *model.DetectionResult, ctx conditionContext, cfg config.TemplateConfig) []model.Condition {
	var out []model.Condition

	if c, ok := timeWindowCondition(det.Observations, ctx, cfg); ok {
		out = append(out, c)
	}
	if days, ok := weekdayNames[det.DayType]; ok {
		out = append(out, model.Condition{Condition: "time", Weekday: days})
	}

	// Links before the trigger link are the behavioral context.
	for _, link := range preconditionLinks(det) {
		out = append(out, model.Condition{
			Condition: "state",
			EntityID:  link.EntityID,
			State:     deviceState(entityDomain(link.EntityID), link.State),
		})
	}

	if ctx.presenceCorrelated && cfg.PresenceEntity != "" {
		out = append(out, presenceCondition(cfg.PresenceEntity))
	}
	if ctx.lightCorrelated && cfg.IlluminanceEntity != "" {
		below := 100.0
		if ctx.illuminanceBelow != nil {
			below = *ctx.illuminanceBelow
		}
		out = append(out, model.Condition{
			Condition: "numeric_state",
			EntityID:  cfg.IlluminanceEntity,
			Below:     &below,
		})
	}

	out = append(out, safetyConditions(det, cfg)...)
	return dedupeConditions(out)
}

// timeWindowCondition adds a clock band only when at least the
// configured share of observations sits inside one span for this day
// type, and the adaptive spread says the behavior is clock-bound.
func timeWindowCondition(observations []time.Time, ctx conditionContext, cfg config.TemplateConfig) (model.Condition, bool) {
	if len(observations) == 0 {
		return model.Condition{}, false
	}
	if !ctx.window.ClockCorrelated(ctx.spreadCeiling) {
		return model.Condition{}, false
	}
	span := cfg.TimeWindowSpan
	if span <= 0 {
		span = 2 * time.Hour
	}
	share := cfg.TimeWindowShare
	if share <= 0 {
		share = 0.8
	}
	lo := ctx.window.Median - span/2
	hi := ctx.window.Median + span/2
	inside := 0
	for _, ts := range observations {
		midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
		off := ts.Sub(midnight)
		if off >= lo && off <= hi {
			inside++
		}
	}
	if float64(inside)/float64(len(observations)) < share {
		return model.Condition{}, false
	}
	return model.Condition{
		Condition: "time",
		After:     clockString(lo),
		Before:    clockString(hi),
	}, true
}

// safetyConditions injects the fixed defaults: presence for lighting
// actions, quiet-hours exclusion for notification actions. A default
// is skipped when the pattern itself contradicts it, e.g. the chain is
// anchored on everyone leaving.
func safetyConditions(det *model.DetectionResult, cfg config.TemplateConfig) []model.Condition {
	var out []model.Condition
	if cfg.PresenceEntity != "" && touchesDomain(det.ActionEntities, "light") && !chainContradictsPresence(det) {
		out = append(out, presenceCondition(cfg.PresenceEntity))
	}
	if touchesDomain(det.ActionEntities, "notify") && cfg.QuietHoursStart != "" && cfg.QuietHoursEnd != "" {
		out = append(out, model.Condition{
			Condition: "time",
			After:     cfg.QuietHoursEnd,
			Before:    cfg.QuietHoursStart,
		})
	}
	return out
}

func presenceCondition(entity string) model.Condition {
	return model.Condition{Condition: "state", EntityID: entity, State: "home"}
}

// chainContradictsPresence reports whether the detected behavior is
// explicitly about departure: a person-like link going negative.
func chainContradictsPresence(det *model.DetectionResult) bool {
	for _, link := range det.Chain {
		d := entityDomain(link.EntityID)
		if (d == "person" || d == "device_tracker") && link.State == string(model.StateNegative) {
			return true
		}
	}
	return false
}

func preconditionLinks(det *model.DetectionResult) []model.ChainLink {
	actions := make(map[string]struct{}, len(det.ActionEntities))
	for _, e := range det.ActionEntities {
		actions[e] = struct{}{}
	}
	var out []model.ChainLink
	for _, link := range det.Chain {
		if link.EntityID == det.TriggerEntity {
			continue
		}
		if _, isAction := actions[link.EntityID]; isAction {
			continue
		}
		out = append(out, link)
	}
	return out
}

func touchesDomain(entities []string, domain string) bool {
	for _, e := range entities {
		if entityDomain(e) == domain {
			return true
		}
	}
	return false
}

func dedupeConditions(conds []model.Condition) []model.Condition {
	seen := make(map[string]struct{}, len(conds))
	out := make([]model.Condition, 0, len(conds))
	for _, c := range conds {
		key := c.Condition + "|" + c.EntityID + "|" + c.State + "|" + c.After + "|" + c.Before
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func clockString(d time.Duration) string {
	for d < 0 {
		d += 24 * time.Hour
	}
	for d >= 24*time.Hour {
		d -= 24 * time.Hour
	}
	total := int(d.Minutes())
	return pad2(total/60) + ":" + pad2(total%60)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + string(rune('0'+v))
	}
	return string(rune('0'+v/10)) + string(rune('0'+v%10))
}
