package analyze

import (
	"math"
	"sort"
	"time"

	"routined/internal/model"
)

// Sample is one ambient reading (illuminance lux or solar elevation
// degrees) at a point in time.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// CorrelateEnvironment measures how strongly event timing tracks an
// ambient signal. Each event is paired with the nearest sample within
// tolerance, so the pairing reflects the value at the moment the
// behavior happened rather than a time-of-day cross-correlation. The
// Pearson coefficient runs over (minutes-into-day, paired value).
// Events with no sample inside tolerance are skipped.
func CorrelateEnvironment(events []model.NormalizedEvent, samples []Sample, tolerance time.Duration) float64 {
	if len(events) < 3 || len(samples) == 0 {
		return 0
	}
	if tolerance <= 0 {
		tolerance = 10 * time.Minute
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var xs, ys []float64
	for _, ev := range events {
		v, ok := nearestSample(sorted, ev.Timestamp, tolerance)
		if !ok {
			continue
		}
		minute := float64(ev.Timestamp.Hour()*60 + ev.Timestamp.Minute())
		xs = append(xs, minute)
		ys = append(ys, v)
	}
	if len(xs) < 3 {
		return 0
	}
	return pearson(xs, ys)
}

// PairedValues returns the ambient value at each event's moment, for
// events that have a sample within tolerance. Callers use it to derive
// thresholds (e.g. the typical lux level when a behavior happens).
func PairedValues(events []model.NormalizedEvent, samples []Sample, tolerance time.Duration) []float64 {
	if len(events) == 0 || len(samples) == 0 {
		return nil
	}
	if tolerance <= 0 {
		tolerance = 10 * time.Minute
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	var out []float64
	for _, ev := range events {
		if v, ok := nearestSample(sorted, ev.Timestamp, tolerance); ok {
			out = append(out, v)
		}
	}
	return out
}

func nearestSample(sorted []Sample, ts time.Time, tolerance time.Duration) (float64, bool) {
	i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Timestamp.Before(ts) })
	best := -1
	var bestDelta time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(sorted) {
			continue
		}
		delta := sorted[j].Timestamp.Sub(ts)
		if delta < 0 {
			delta = -delta
		}
		if best == -1 || delta < bestDelta {
			best = j
			bestDelta = delta
		}
	}
	if best == -1 || bestDelta > tolerance {
		return 0, false
	}
	return sorted[best].Value, true
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / n
	meanY := sumY / n
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
