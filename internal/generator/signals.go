package generator

import (
	"sort"
	"strconv"
	"time"

	"routined/internal/analyze"
	"routined/internal/model"
)

// illuminanceSamples extracts ambient readings from the configured
// sensor's events in the pool.
func illuminanceSamples(pool []model.NormalizedEvent, entity string) []analyze.Sample {
	if entity == "" {
		return nil
	}
	var out []analyze.Sample
	for _, ev := range pool {
		if ev.EntityID != entity {
			continue
		}
		if v, err := strconv.ParseFloat(ev.RawState, 64); err == nil {
			out = append(out, analyze.Sample{Timestamp: ev.Timestamp, Value: v})
		}
	}
	return out
}

// presenceShare is the fraction of observations during which the
// presence entity last reported home.
func presenceShare(observations []time.Time, pool []model.NormalizedEvent, entity string) float64 {
	if entity == "" || len(observations) == 0 {
		return 0
	}
	var timeline []model.NormalizedEvent
	for _, ev := range pool {
		if ev.EntityID == entity {
			timeline = append(timeline, ev)
		}
	}
	if len(timeline) == 0 {
		return 0
	}
	home := 0
	for _, ts := range observations {
		state := ""
		for _, ev := range timeline {
			if ev.Timestamp.After(ts) {
				break
			}
			state = ev.State
		}
		if state == string(model.StatePositive) {
			home++
		}
	}
	return float64(home) / float64(len(observations))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// awayDays lists the days the presence entity stayed away from
// midnight to midnight. The carried-in state from the previous day
// must be a known away state; a day with no signal at all never
// counts, so sparse reporting cannot fabricate a vacation.
func awayDays(events []model.RawEvent, entity string, start, end time.Time) []time.Time {
	if entity == "" {
		return nil
	}
	var obs []model.RawEvent
	for _, ev := range events {
		if ev.EntityID == entity {
			obs = append(obs, ev)
		}
	}
	if len(obs) == 0 {
		return nil
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })

	var out []time.Time
	idx := 0
	state := ""
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		for idx < len(obs) && obs[idx].Timestamp.Before(day) {
			state = obs[idx].NewState
			idx++
		}
		next := day.AddDate(0, 0, 1)
		away := awayState(state)
		for j := idx; j < len(obs) && obs[j].Timestamp.Before(next); j++ {
			if !awayState(obs[j].NewState) {
				away = false
			}
		}
		if away {
			out = append(out, day)
		}
	}
	return out
}

func awayState(s string) bool {
	switch s {
	case "not_home", "away", "off":
		return true
	}
	return false
}
