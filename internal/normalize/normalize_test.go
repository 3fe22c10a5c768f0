package normalize

import (
	"testing"
	"time"

	"routined/internal/config"
	"routined/internal/health"
	"routined/internal/model"
)

func testFilterConfig() config.FilterConfig {
	return config.FilterConfig{
		IgnoredStates: []string{"unavailable", "unknown"},
	}
}

func rawEvent(ts time.Time, entity, domain, oldState, newState, origin string) model.RawEvent {
	return model.RawEvent{
		Timestamp:     ts,
		EntityID:      entity,
		Domain:        domain,
		OldState:      oldState,
		NewState:      newState,
		OriginContext: origin,
	}
}

func TestStateFilterDropsIgnoredEitherDirection(t *testing.T) {
	n := New(testFilterConfig(), nil)
	ts := time.Now()
	in := []model.RawEvent{
		rawEvent(ts, "light.a", "light", "off", "on", ""),
		rawEvent(ts, "light.a", "light", "unavailable", "on", ""),
		rawEvent(ts, "light.a", "light", "on", "unknown", ""),
	}
	out := n.FilterStates(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 kept, got %d", len(out))
	}
	// Round trip: filtered count + kept count = input count.
	if len(in)-len(out) != 2 {
		t.Fatalf("expected 2 filtered, got %d", len(in)-len(out))
	}
}

func TestHealthFilterDropsUnreliable(t *testing.T) {
	n := New(testFilterConfig(), nil)
	ts := time.Now()
	in := []model.RawEvent{
		rawEvent(ts, "light.ok", "light", "off", "on", ""),
		rawEvent(ts, "sensor.bad", "sensor", "off", "on", ""),
	}
	grades := map[string]model.EntityHealth{
		"sensor.bad": {EntityID: "sensor.bad", Grade: model.GradeUnreliable},
	}
	out := n.FilterHealth(in, grades)
	if len(out) != 1 || out[0].EntityID != "light.ok" {
		t.Fatalf("unreliable entity survived: %+v", out)
	}
}

func TestExclusionsAndAllowListPrecedence(t *testing.T) {
	cfg := testFilterConfig()
	cfg.ExcludeEntities = []string{"light.banned"}
	cfg.ExcludeAreas = []string{"garage"}
	cfg.ExcludeDomains = []string{"light"}
	cfg.ExcludeGlobs = []string{"sensor.debug_*"}
	n := New(cfg, nil)
	ts := time.Now()

	in := []model.RawEvent{
		rawEvent(ts, "light.banned", "light", "off", "on", ""),
		{Timestamp: ts, EntityID: "switch.g", Domain: "switch", OldState: "off", NewState: "on", Area: "garage"},
		rawEvent(ts, "light.lounge", "light", "off", "on", ""),
		rawEvent(ts, "sensor.debug_probe", "sensor", "off", "on", ""),
		rawEvent(ts, "switch.ok", "switch", "off", "on", ""),
	}
	out := n.FilterExclusions(in)
	if len(out) != 1 || out[0].EntityID != "switch.ok" {
		t.Fatalf("exclusion filtering wrong: %+v", out)
	}

	// A non-empty allow-list overrides the domain exclusion list.
	cfg.AllowDomains = []string{"light"}
	n = New(cfg, nil)
	out = n.FilterExclusions(in)
	if len(out) != 1 || out[0].EntityID != "light.lounge" {
		t.Fatalf("allow-list precedence wrong: %+v", out)
	}
}

func TestStateNormalizationTable(t *testing.T) {
	cases := map[string]string{
		"on":       "positive",
		"detected": "positive",
		"unlocked": "positive",
		"home":     "positive",
		"off":      "negative",
		"clear":    "negative",
		"locked":   "negative",
		"not_home": "negative",
		"21.5":     "21.5",
	}
	for raw, want := range cases {
		if got := NormalizeState(raw); got != want {
			t.Fatalf("NormalizeState(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestOriginTagging(t *testing.T) {
	n := New(testFilterConfig(), nil)
	ts := time.Now()
	raw := []model.RawEvent{
		rawEvent(ts, "light.a", "light", "off", "on", ""),
		rawEvent(ts, "light.b", "light", "off", "on", "automation.morning"),
	}
	events := TagOrigin(n.NormalizeStates(raw, nil), raw)
	if !events[0].IsManual {
		t.Fatalf("event without origin context must be manual")
	}
	if events[1].IsManual {
		t.Fatalf("event with origin context must not be manual")
	}
}

func TestSegmentationDropsVacation(t *testing.T) {
	workday := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	vacation := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	days := []model.DayContext{
		{Date: workday.Truncate(24 * time.Hour), Type: model.DayWorkday},
		{Date: vacation.Truncate(24 * time.Hour), Type: model.DayVacation},
	}
	events := []model.NormalizedEvent{
		{Timestamp: workday, EntityID: "light.a"},
		{Timestamp: vacation, EntityID: "light.a"},
	}
	pools := SegmentByDayType(events, days)
	if len(pools[model.DayWorkday]) != 1 {
		t.Fatalf("expected 1 workday event, got %d", len(pools[model.DayWorkday]))
	}
	if len(pools[model.DayVacation]) != 0 {
		t.Fatalf("vacation events must be dropped")
	}
	if pools[model.DayWorkday][0].DayType != model.DayWorkday {
		t.Fatalf("event not stamped with day type")
	}
}

func TestFullPipeline(t *testing.T) {
	cfg := testFilterConfig()
	scorer := health.NewScorer(config.HealthConfig{FlakyBelowPct: 0.97, UnreliableBelowPct: 0.90, FlakyPenalty: 0.8})
	n := New(cfg, scorer)
	ts := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	days := []model.DayContext{{Date: ts.Truncate(24 * time.Hour), Type: model.DayWorkday}}
	raw := []model.RawEvent{
		rawEvent(ts, "light.a", "light", "off", "on", ""),
		rawEvent(ts.Add(time.Minute), "sensor.flaky", "binary_sensor", "clear", "detected", ""),
	}
	grades := map[string]model.EntityHealth{
		"sensor.flaky": {EntityID: "sensor.flaky", Grade: model.GradeFlaky},
	}
	pools := n.Run(raw, grades, days)
	events := pools[model.DayWorkday]
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ConfidenceMult != 1.0 {
		t.Fatalf("healthy entity should carry multiplier 1.0")
	}
	if events[1].ConfidenceMult != 0.8 {
		t.Fatalf("flaky entity should carry penalty 0.8, got %f", events[1].ConfidenceMult)
	}
	if events[1].State != "positive" {
		t.Fatalf("detected should normalize to positive, got %q", events[1].State)
	}
}
