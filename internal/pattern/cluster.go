package pattern

import "math"

// cluster groups sequences whose trajectories are close: same entities
// in roughly the same order with roughly the same relative timing.
type cluster struct {
	centroid sequence
	members  []sequence
	distSum  float64
}

// distance between two sequences in [0, 1]. The entity-set mismatch
// dominates; the timing term tolerates jitter by normalizing offset
// deltas against the longer sequence's span.
func distance(a, b *sequence) float64 {
	setA := a.entitySet()
	setB := b.entitySet()
	inter := 0
	for e := range setA {
		if _, ok := setB[e]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 1
	}
	jaccard := 1.0 - float64(inter)/float64(union)
	if inter == 0 {
		return 1
	}

	span := math.Max(lastOffset(a), lastOffset(b))
	if span <= 0 {
		return jaccard
	}
	var timing float64
	var matched int
	offA := offsetsByEntity(a)
	offB := offsetsByEntity(b)
	for e, oa := range offA {
		ob, ok := offB[e]
		if !ok {
			continue
		}
		timing += math.Abs(oa-ob) / span
		matched++
	}
	if matched > 0 {
		timing /= float64(matched)
	}
	return 0.7*jaccard + 0.3*math.Min(timing, 1)
}

// clusterSequences greedily assigns each sequence to the nearest
// existing cluster under epsilon, or opens a new one. Greedy single
// pass keeps the engine linear in sequences times clusters, which the
// area and event caps bound.
func clusterSequences(seqs []sequence, epsilon float64) []*cluster {
	var clusters []*cluster
	for i := range seqs {
		var best *cluster
		bestDist := epsilon
		for _, c := range clusters {
			d := distance(&c.centroid, &seqs[i])
			if d <= bestDist {
				best = c
				bestDist = d
			}
		}
		if best == nil {
			clusters = append(clusters, &cluster{centroid: seqs[i], members: []sequence{seqs[i]}})
			continue
		}
		best.members = append(best.members, seqs[i])
		best.distSum += bestDist
	}
	return clusters
}

// cohesion is 1 minus the mean member distance to the centroid.
func (c *cluster) cohesion() float64 {
	if len(c.members) <= 1 {
		return 1
	}
	return 1 - c.distSum/float64(len(c.members))
}

// minWeight is the worst flaky-entity penalty seen across members.
func (c *cluster) minWeight() float64 {
	w := 1.0
	for i := range c.members {
		if c.members[i].weight < w {
			w = c.members[i].weight
		}
	}
	return w
}

func lastOffset(s *sequence) float64 {
	if len(s.links) == 0 {
		return 0
	}
	return s.links[len(s.links)-1].OffsetSec
}

func offsetsByEntity(s *sequence) map[string]float64 {
	out := make(map[string]float64, len(s.links))
	for _, l := range s.links {
		if _, seen := out[l.EntityID]; !seen {
			out[l.EntityID] = l.OffsetSec
		}
	}
	return out
}
