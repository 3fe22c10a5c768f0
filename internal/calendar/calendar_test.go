package calendar

import (
	"testing"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

func testCalendarConfig() config.CalendarConfig {
	return config.CalendarConfig{
		HolidayKeywords:  []string{"holiday"},
		VacationKeywords: []string{"vacation", "trip"},
		WFHKeywords:      []string{"wfh", "home office"},
		MinHolidayDays:   10,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func findDay(days []model.DayContext, date time.Time) *model.DayContext {
	for i := range days {
		if days[i].Date.Equal(date) {
			return &days[i]
		}
	}
	return nil
}

func TestWeekdayWeekendBase(t *testing.T) {
	// 2026-03-02 is a Monday, 2026-03-07 a Saturday.
	days := ClassifyDays(day(2026, 3, 2), day(2026, 3, 8), nil, nil, testCalendarConfig())
	if got := findDay(days, day(2026, 3, 2)); got == nil || got.Type != model.DayWorkday {
		t.Fatalf("expected monday workday, got %+v", got)
	}
	if got := findDay(days, day(2026, 3, 7)); got == nil || got.Type != model.DayWeekend {
		t.Fatalf("expected saturday weekend, got %+v", got)
	}
}

func TestKeywordPrecedence(t *testing.T) {
	events := []Event{
		{Summary: "Company Holiday", Start: day(2026, 3, 3), End: day(2026, 3, 4)},
		{Summary: "WFH day", Start: day(2026, 3, 4), End: day(2026, 3, 5)},
		{Summary: "Spring trip", Start: day(2026, 3, 5), End: day(2026, 3, 7)},
	}
	days := ClassifyDays(day(2026, 3, 2), day(2026, 3, 8), events, nil, testCalendarConfig())
	// Fewer than 10 holiday days in the window: merged into weekend.
	if got := findDay(days, day(2026, 3, 3)); got == nil || got.Type != model.DayWeekend {
		t.Fatalf("expected sparse holiday merged to weekend, got %+v", got)
	}
	if got := findDay(days, day(2026, 3, 4)); got == nil || got.Type != model.DayWorkFromHome {
		t.Fatalf("expected wfh, got %+v", got)
	}
	if got := findDay(days, day(2026, 3, 5)); got == nil || got.Type != model.DayVacation {
		t.Fatalf("expected vacation, got %+v", got)
	}
}

func TestHolidayKeptWhenSufficient(t *testing.T) {
	cfg := testCalendarConfig()
	cfg.MinHolidayDays = 1
	events := []Event{{Summary: "Public holiday", Start: day(2026, 3, 3), End: day(2026, 3, 4)}}
	days := ClassifyDays(day(2026, 3, 2), day(2026, 3, 8), events, nil, cfg)
	if got := findDay(days, day(2026, 3, 3)); got == nil || got.Type != model.DayHoliday {
		t.Fatalf("expected holiday kept, got %+v", got)
	}
	if got := findDay(days, day(2026, 3, 3)); len(got.Summaries) != 1 {
		t.Fatalf("expected justifying summary recorded, got %+v", got.Summaries)
	}
}

func TestAwayDays(t *testing.T) {
	days := ClassifyDays(day(2026, 3, 2), day(2026, 3, 8), nil, []time.Time{day(2026, 3, 4)}, testCalendarConfig())
	got := findDay(days, day(2026, 3, 4))
	if got == nil || !got.AwayAll || got.Type != model.DayVacation {
		t.Fatalf("expected away vacation day, got %+v", got)
	}
}

func TestFallbackDays(t *testing.T) {
	days := FallbackDays(day(2026, 3, 2), day(2026, 3, 8))
	if len(days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(days))
	}
	for _, d := range days {
		if d.Type != model.DayWorkday && d.Type != model.DayWeekend {
			t.Fatalf("fallback produced %s", d.Type)
		}
	}
}
