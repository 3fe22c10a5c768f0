package gap

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// Coverage answers whether an enabled existing automation already
// performs an action on the given entity. The syncer implements it.
type Coverage interface {
	Covers(entityID string) bool
}

// Analyzer mines frequent short manual-only action sequences that no
// enabled automation already covers.
type Analyzer struct {
	cfg    config.GapConfig
	logger *slog.Logger
}

func NewAnalyzer(cfg config.GapConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, logger: logger}
}

type step struct {
	entity string
	state  string
}

func (s step) key() string { return s.entity + "=" + s.state }

type candidate struct {
	steps   []step
	offsets []float64
	area    string
	days    map[string]struct{}
	times   []time.Time
	weight  float64
	count   int
}

// Mine runs gap detection over every day-type pool of manual events.
func (a *Analyzer) Mine(pools map[model.DayType][]model.NormalizedEvent, eligibleDays map[model.DayType]int, coverage Coverage) []model.DetectionResult {
	var out []model.DetectionResult
	for dayType, events := range pools {
		days := eligibleDays[dayType]
		if days == 0 {
			continue
		}
		out = append(out, a.mineSegment(events, dayType, days, coverage)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Consistency > out[j].Consistency })
	return out
}

func (a *Analyzer) mineSegment(events []model.NormalizedEvent, dayType model.DayType, eligibleDays int, coverage Coverage) []model.DetectionResult {
	manual := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsManual {
			manual = append(manual, ev)
		}
	}
	if len(manual) < a.cfg.MinLength {
		return nil
	}
	sort.Slice(manual, func(i, j int) bool { return manual[i].Timestamp.Before(manual[j].Timestamp) })

	candidates := make(map[string]*candidate)
	run := make([]model.NormalizedEvent, 0, 16)
	flush := func() {
		a.collectSubsequences(run, candidates)
		run = run[:0]
	}
	for _, ev := range manual {
		if len(run) > 0 && ev.Timestamp.Sub(run[len(run)-1].Timestamp) > a.cfg.SequenceWindow {
			flush()
		}
		run = append(run, ev)
	}
	flush()

	kept := a.filter(candidates, eligibleDays, coverage)
	out := make([]model.DetectionResult, 0, len(kept))
	for _, c := range kept {
		out = append(out, a.toDetection(c, dayType, eligibleDays))
	}
	if a.logger != nil {
		a.logger.Debug("gap segment mined", "day_type", dayType, "manual_events", len(manual), "gaps", len(out))
	}
	return out
}

// collectSubsequences counts every contiguous subsequence of the run
// between the configured min and max lengths.
func (a *Analyzer) collectSubsequences(run []model.NormalizedEvent, candidates map[string]*candidate) {
	if len(run) < a.cfg.MinLength {
		return
	}
	for start := 0; start < len(run); start++ {
		maxEnd := start + a.cfg.MaxLength
		if maxEnd > len(run) {
			maxEnd = len(run)
		}
		for end := start + a.cfg.MinLength; end <= maxEnd; end++ {
			a.record(run[start:end], candidates)
		}
	}
}

func (a *Analyzer) record(window []model.NormalizedEvent, candidates map[string]*candidate) {
	steps := make([]step, len(window))
	keys := make([]string, len(window))
	weight := 1.0
	for i, ev := range window {
		steps[i] = step{entity: ev.EntityID, state: ev.State}
		keys[i] = steps[i].key()
		if ev.ConfidenceMult > 0 && ev.ConfidenceMult < weight {
			weight = ev.ConfidenceMult
		}
	}
	key := strings.Join(keys, ">")
	c, ok := candidates[key]
	if !ok {
		offsets := make([]float64, len(window))
		for i, ev := range window {
			offsets[i] = ev.Timestamp.Sub(window[0].Timestamp).Seconds()
		}
		c = &candidate{steps: steps, offsets: offsets, area: window[0].Area, days: make(map[string]struct{}), weight: weight}
		candidates[key] = c
	}
	c.count++
	if weight < c.weight {
		c.weight = weight
	}
	c.days[window[0].Timestamp.Format("2006-01-02")] = struct{}{}
	c.times = append(c.times, window[0].Timestamp)
}

// filter applies the occurrence and consistency floors, discards
// sequences whose final action an enabled automation already covers,
// and prunes candidates that are strict prefixes of a kept longer one.
func (a *Analyzer) filter(candidates map[string]*candidate, eligibleDays int, coverage Coverage) []*candidate {
	var kept []*candidate
	for _, c := range candidates {
		if c.count < a.cfg.MinOccurrences {
			continue
		}
		consistency := float64(len(c.days)) / float64(eligibleDays)
		if consistency < a.cfg.MinConsistency {
			continue
		}
		final := c.steps[len(c.steps)-1]
		if coverage != nil && coverage.Covers(final.entity) {
			continue
		}
		kept = append(kept, c)
	}

	sort.Slice(kept, func(i, j int) bool {
		if len(kept[i].steps) != len(kept[j].steps) {
			return len(kept[i].steps) > len(kept[j].steps)
		}
		return kept[i].count > kept[j].count
	})
	var pruned []*candidate
	for _, c := range kept {
		if isPrefixOfAny(c, pruned) {
			continue
		}
		pruned = append(pruned, c)
	}
	return pruned
}

func (a *Analyzer) toDetection(c *candidate, dayType model.DayType, eligibleDays int) model.DetectionResult {
	chain := make([]model.ChainLink, len(c.steps))
	for i, s := range c.steps {
		chain[i] = model.ChainLink{EntityID: s.entity, State: s.state, OffsetSec: c.offsets[i]}
	}
	trigger := chain[0].EntityID
	if len(chain) > 2 {
		trigger = chain[len(chain)-2].EntityID
	}
	actions := []string{chain[len(chain)-1].EntityID}

	sort.Slice(c.times, func(i, j int) bool { return c.times[i].Before(c.times[j]) })
	first := c.times[0]
	last := c.times[len(c.times)-1]
	recent := 0
	cutoff := last.AddDate(0, 0, -14)
	for _, ts := range c.times {
		if !ts.Before(cutoff) {
			recent++
		}
	}
	consistency := float64(len(c.days)) / float64(eligibleDays)
	return model.DetectionResult{
		Source:         model.SourceGap,
		TriggerEntity:  trigger,
		ActionEntities: actions,
		Chain:          chain,
		Area:           c.area,
		Confidence:     math.Min(consistency*c.weight, 1),
		Consistency:    consistency,
		RecencyWeight:  math.Min(1, float64(recent)/float64(c.count)),
		Occurrences:    c.count,
		Observations:   c.times,
		FirstSeen:      first,
		LastSeen:       last,
		DayType:        dayType,
	}
}

func isPrefixOfAny(c *candidate, longer []*candidate) bool {
	for _, l := range longer {
		if len(c.steps) >= len(l.steps) || c.count > l.count {
			continue
		}
		match := true
		for i := range c.steps {
			if l.steps[i] != c.steps[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
