package health

import (
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// Scorer grades each entity's data reliability from the share of its
// transitions that pass through unavailable/unknown.
type Scorer struct {
	cfg config.HealthConfig
}

func NewScorer(cfg config.HealthConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

type entityStats struct {
	total       int
	unavailable int
	worstOutage time.Duration
	outageStart time.Time
	inOutage    bool
}

// Score grades every entity present in the raw stream. Events must be
// in ascending timestamp order per entity for outage durations to be
// meaningful; out-of-order input still grades availability correctly.
func (s *Scorer) Score(events []model.RawEvent) map[string]model.EntityHealth {
	stats := make(map[string]*entityStats)
	for i := range events {
		ev := &events[i]
		st, ok := stats[ev.EntityID]
		if !ok {
			st = &entityStats{}
			stats[ev.EntityID] = st
		}
		st.total++
		if isDead(ev.NewState) {
			st.unavailable++
			if !st.inOutage {
				st.inOutage = true
				st.outageStart = ev.Timestamp
			}
			continue
		}
		if st.inOutage {
			st.inOutage = false
			if d := ev.Timestamp.Sub(st.outageStart); d > st.worstOutage {
				st.worstOutage = d
			}
		}
	}

	out := make(map[string]model.EntityHealth, len(stats))
	for id, st := range stats {
		avail := 1.0
		if st.total > 0 {
			avail = 1.0 - float64(st.unavailable)/float64(st.total)
		}
		out[id] = model.EntityHealth{
			EntityID:        id,
			AvailabilityPct: avail,
			UnavailableRuns: st.unavailable,
			WorstOutage:     st.worstOutage,
			Grade:           s.grade(avail),
		}
	}
	return out
}

func (s *Scorer) grade(availability float64) model.Grade {
	switch {
	case availability < s.cfg.UnreliableBelowPct:
		return model.GradeUnreliable
	case availability < s.cfg.FlakyBelowPct:
		return model.GradeFlaky
	default:
		return model.GradeHealthy
	}
}

// Penalty returns the confidence multiplier events of this entity
// carry downstream. Unreliable entities never reach downstream, so the
// multiplier only distinguishes healthy from flaky.
func (s *Scorer) Penalty(grade model.Grade) float64 {
	if grade == model.GradeFlaky {
		if s.cfg.FlakyPenalty > 0 {
			return s.cfg.FlakyPenalty
		}
		return 0.8
	}
	return 1.0
}

func isDead(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "unavailable", "unknown", "none", "":
		return true
	}
	return false
}
