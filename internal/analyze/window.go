package analyze

import (
	"sort"
	"time"
)

// AdaptiveWindow is the typical time-of-day of a behavior and how far
// it wanders. When Spread exceeds the configured ceiling the behavior
// is not clock-correlated and callers must omit time-of-day conditions.
type AdaptiveWindow struct {
	Median time.Duration
	Spread time.Duration
}

// ComputeAdaptiveWindow reduces a set of observation timestamps to the
// median offset-from-midnight and the interquartile spread around it.
func ComputeAdaptiveWindow(timestamps []time.Time) AdaptiveWindow {
	if len(timestamps) == 0 {
		return AdaptiveWindow{}
	}
	offsets := make([]time.Duration, 0, len(timestamps))
	for _, ts := range timestamps {
		midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
		offsets = append(offsets, ts.Sub(midnight))
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	median := quantile(offsets, 0.5)
	q1 := quantile(offsets, 0.25)
	q3 := quantile(offsets, 0.75)
	return AdaptiveWindow{Median: median, Spread: q3 - q1}
}

// ClockCorrelated reports whether a time-of-day condition is allowed
// for this window under the given spread ceiling.
func (w AdaptiveWindow) ClockCorrelated(ceiling time.Duration) bool {
	if ceiling <= 0 {
		ceiling = 90 * time.Minute
	}
	return w.Spread <= ceiling
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(float64(sorted[hi]-sorted[lo])*frac)
}
