package pattern

import (
	"sort"
	"time"

	"routined/internal/model"
)

// sequence is one windowed multi-entity run of events in a single area.
type sequence struct {
	start  time.Time
	links  []model.ChainLink
	weight float64
}

// cutSequences sorts the events of one area and slices them into
// sequences wherever the gap between consecutive events exceeds the
// window. Single-event runs are discarded; a run contributes one link
// per entity-state step.
func cutSequences(events []model.NormalizedEvent, window time.Duration) []sequence {
	if len(events) < 2 {
		return nil
	}
	sorted := make([]model.NormalizedEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []sequence
	var cur []model.NormalizedEvent
	flush := func() {
		if len(cur) >= 2 {
			out = append(out, buildSequence(cur))
		}
		cur = cur[:0]
	}
	for _, ev := range sorted {
		if len(cur) > 0 && ev.Timestamp.Sub(cur[len(cur)-1].Timestamp) > window {
			flush()
		}
		cur = append(cur, ev)
	}
	flush()
	return out
}

func buildSequence(events []model.NormalizedEvent) sequence {
	start := events[0].Timestamp
	links := make([]model.ChainLink, 0, len(events))
	weight := 1.0
	for _, ev := range events {
		links = append(links, model.ChainLink{
			EntityID:  ev.EntityID,
			State:     ev.State,
			OffsetSec: ev.Timestamp.Sub(start).Seconds(),
		})
		if ev.ConfidenceMult > 0 && ev.ConfidenceMult < weight {
			weight = ev.ConfidenceMult
		}
	}
	return sequence{start: start, links: links, weight: weight}
}

// entitySet returns the unordered set of entities in the sequence.
func (s *sequence) entitySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.links))
	for _, l := range s.links {
		set[l.EntityID] = struct{}{}
	}
	return set
}
