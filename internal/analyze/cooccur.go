package analyze

import (
	"sort"
	"strings"
	"time"

	"routined/internal/model"
)

// CoOccurrence is one order-independent entity set that changes
// together, annotated with its most frequent relative ordering.
type CoOccurrence struct {
	Entities []string
	Count    int
	Ordering []string
}

// FindCoOccurringSets scans forward from each event within window and
// accumulates counts per unordered entity set. Sets below minCount are
// dropped. The typical ordering is the relative sequence observed most
// often for the set.
func FindCoOccurringSets(events []model.NormalizedEvent, window time.Duration, minCount int) []CoOccurrence {
	if len(events) == 0 || window <= 0 {
		return nil
	}
	sorted := make([]model.NormalizedEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	counts := make(map[string]int)
	orderings := make(map[string]map[string]int)

	for i := range sorted {
		group := []string{sorted[i].EntityID}
		seen := map[string]struct{}{sorted[i].EntityID: {}}
		cutoff := sorted[i].Timestamp.Add(window)
		for j := i + 1; j < len(sorted) && !sorted[j].Timestamp.After(cutoff); j++ {
			if _, dup := seen[sorted[j].EntityID]; dup {
				continue
			}
			seen[sorted[j].EntityID] = struct{}{}
			group = append(group, sorted[j].EntityID)
		}
		if len(group) < 2 {
			continue
		}
		key := setKey(group)
		counts[key]++
		ord := strings.Join(group, ">")
		if orderings[key] == nil {
			orderings[key] = make(map[string]int)
		}
		orderings[key][ord]++
	}

	out := make([]CoOccurrence, 0, len(counts))
	for key, count := range counts {
		if count < minCount {
			continue
		}
		out = append(out, CoOccurrence{
			Entities: strings.Split(key, "|"),
			Count:    count,
			Ordering: strings.Split(topOrdering(orderings[key]), ">"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func setKey(entities []string) string {
	s := make([]string, len(entities))
	copy(s, entities)
	sort.Strings(s)
	return strings.Join(s, "|")
}

func topOrdering(counts map[string]int) string {
	best := ""
	bestCount := -1
	for ord, c := range counts {
		if c > bestCount || (c == bestCount && ord < best) {
			best = ord
			bestCount = c
		}
	}
	return best
}
