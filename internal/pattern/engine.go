package pattern

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"routined/internal/analyze"
	"routined/internal/config"
	"routined/internal/model"
)

// Engine mines recurring multi-entity sequences per day-type segment.
// It is bounded: only the most event-active areas are considered and
// oversized pools are sampled, never processed exhaustively.
type Engine struct {
	cfg      config.PatternConfig
	analysis config.AnalysisConfig
	logger   *slog.Logger
}

func NewEngine(cfg config.PatternConfig, analysis config.AnalysisConfig, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, analysis: analysis, logger: logger}
}

// Mine runs detection over every day-type pool. eligibleDays maps each
// day type to the number of days of that type in the analysis window.
func (e *Engine) Mine(pools map[model.DayType][]model.NormalizedEvent, eligibleDays map[model.DayType]int) []model.DetectionResult {
	var out []model.DetectionResult
	for dayType, events := range pools {
		days := eligibleDays[dayType]
		if days == 0 || len(events) == 0 {
			continue
		}
		results := e.mineSegment(events, dayType, days)
		out = append(out, results...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func (e *Engine) mineSegment(events []model.NormalizedEvent, dayType model.DayType, eligibleDays int) []model.DetectionResult {
	events = e.sample(events)
	byArea := groupByArea(events, e.cfg.MaxAreas)

	var out []model.DetectionResult
	for area, areaEvents := range byArea {
		seqs := cutSequences(areaEvents, e.cfg.SequenceWindow)
		if len(seqs) == 0 {
			continue
		}
		assoc := associationCounts(areaEvents, e.analysis.CoOccurrenceWindow, e.analysis.CoOccurrenceMinCount)
		clusters := clusterSequences(seqs, e.cfg.ClusterEpsilon)
		for _, c := range clusters {
			res, ok := e.toDetection(c, area, dayType, eligibleDays, assoc)
			if !ok {
				continue
			}
			out = append(out, res)
		}
	}
	if e.logger != nil {
		e.logger.Debug("pattern segment mined", "day_type", dayType, "events", len(events), "results", len(out))
	}
	return out
}

func (e *Engine) toDetection(c *cluster, area string, dayType model.DayType, eligibleDays int, assoc map[string]int) (model.DetectionResult, bool) {
	occurrences := len(c.members)
	if occurrences < e.cfg.MinOccurrences {
		return model.DetectionResult{}, false
	}
	support := float64(distinctDays(c.members)) / float64(eligibleDays)
	if support > 1 {
		support = 1
	}
	if support < e.cfg.MinSupport {
		return model.DetectionResult{}, false
	}

	confidence := c.cohesion() * support * c.minWeight() * associationStrength(assoc, c.centroid.links, occurrences)
	confidence = clamp(confidence, 0, e.cfg.ConfidenceCeiling)
	if confidence < e.cfg.ConfidenceFloor {
		return model.DetectionResult{}, false
	}

	chain := c.centroid.links
	if len(chain) < 2 {
		return model.DetectionResult{}, false
	}
	// Penultimate link is the trigger, final link the action; anything
	// earlier becomes a precondition when the artifact is built.
	trigger := chain[len(chain)-2].EntityID
	action := chain[len(chain)-1].EntityID
	if trigger == action {
		return model.DetectionResult{}, false
	}

	first, last, times := observationSpan(c.members)
	recent := 0
	cutoff := last.AddDate(0, 0, -14)
	for _, ts := range times {
		if !ts.Before(cutoff) {
			recent++
		}
	}
	return model.DetectionResult{
		Source:         model.SourcePattern,
		TriggerEntity:  trigger,
		ActionEntities: []string{action},
		Chain:          chain,
		Area:           area,
		Confidence:     confidence,
		Consistency:    support,
		RecencyWeight:  math.Min(1, float64(recent)/float64(occurrences)),
		Occurrences:    occurrences,
		Observations:   times,
		FirstSeen:      first,
		LastSeen:       last,
		DayType:        dayType,
	}, true
}

// sample stride-samples an oversized pool down to the event ceiling.
func (e *Engine) sample(events []model.NormalizedEvent) []model.NormalizedEvent {
	maxEvents := e.cfg.MaxEvents
	if maxEvents <= 0 || len(events) <= maxEvents {
		return events
	}
	stride := float64(len(events)) / float64(maxEvents)
	out := make([]model.NormalizedEvent, 0, maxEvents)
	for i := 0.0; int(i) < len(events) && len(out) < maxEvents; i += stride {
		out = append(out, events[int(i)])
	}
	if e.logger != nil {
		e.logger.Warn("pattern pool sampled", "events", len(events), "kept", len(out))
	}
	return out
}

// groupByArea keeps only the maxAreas most event-active areas.
// Events with no resolved area are pooled under an empty key.
func groupByArea(events []model.NormalizedEvent, maxAreas int) map[string][]model.NormalizedEvent {
	byArea := make(map[string][]model.NormalizedEvent)
	for _, ev := range events {
		byArea[ev.Area] = append(byArea[ev.Area], ev)
	}
	if maxAreas <= 0 || len(byArea) <= maxAreas {
		return byArea
	}
	type areaCount struct {
		area  string
		count int
	}
	ranked := make([]areaCount, 0, len(byArea))
	for area, evs := range byArea {
		ranked = append(ranked, areaCount{area, len(evs)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].area < ranked[j].area
	})
	out := make(map[string][]model.NormalizedEvent, maxAreas)
	for _, ac := range ranked[:maxAreas] {
		out[ac.area] = byArea[ac.area]
	}
	return out
}

func distinctDays(members []sequence) int {
	days := make(map[string]struct{}, len(members))
	for i := range members {
		days[members[i].start.Format("2006-01-02")] = struct{}{}
	}
	return len(days)
}

func observationSpan(members []sequence) (first, last time.Time, times []time.Time) {
	times = make([]time.Time, 0, len(members))
	for i := range members {
		ts := members[i].start
		times = append(times, ts)
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return first, last, times
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// associationCounts runs the frequent-itemset scan over an area's
// events and indexes the surviving sets by their sorted entity key.
func associationCounts(events []model.NormalizedEvent, window time.Duration, minCount int) map[string]int {
	sets := analyze.FindCoOccurringSets(events, window, minCount)
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string]int, len(sets))
	for _, s := range sets {
		out[entitySetKey(s.Entities)] = s.Count
	}
	return out
}

// associationStrength scales cluster confidence by how often the
// chain's entities actually change together, relative to the cluster's
// own occurrence count. A set the scan never surfaced stays neutral:
// absence means no itemset evidence either way, not a contradiction.
func associationStrength(counts map[string]int, links []model.ChainLink, occurrences int) float64 {
	if occurrences == 0 || len(counts) == 0 {
		return 1
	}
	entities := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, l := range links {
		if _, dup := seen[l.EntityID]; dup {
			continue
		}
		seen[l.EntityID] = struct{}{}
		entities = append(entities, l.EntityID)
	}
	count, ok := counts[entitySetKey(entities)]
	if !ok {
		return 1
	}
	s := float64(count) / float64(occurrences)
	if s > 1 {
		s = 1
	}
	return s
}

func entitySetKey(entities []string) string {
	sorted := append([]string(nil), entities...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
