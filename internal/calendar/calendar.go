package calendar

import (
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// Event is one calendar entry as fetched from the hub's calendar feed.
type Event struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day"`
}

// ClassifyDays labels every date in [start, end] with a day type.
// Precedence: weekday/weekend from the date, then calendar keyword
// matches for holiday/vacation/work-from-home, then the away-days list.
// Keyword lists come from config, never hardcoded.
func ClassifyDays(start, end time.Time, events []Event, awayDays []time.Time, cfg config.CalendarConfig) []model.DayContext {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil
	}

	away := make(map[string]struct{}, len(awayDays))
	for _, d := range awayDays {
		away[dayKey(d)] = struct{}{}
	}

	var out []model.DayContext
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		ctx := model.DayContext{Date: day, Type: baseType(day)}
		for _, ev := range events {
			if !covers(ev, day) {
				continue
			}
			summary := strings.ToLower(ev.Summary)
			switch {
			case matchAny(summary, cfg.VacationKeywords):
				ctx.Type = model.DayVacation
			case matchAny(summary, cfg.HolidayKeywords):
				if ctx.Type != model.DayVacation {
					ctx.Type = model.DayHoliday
				}
			case matchAny(summary, cfg.WFHKeywords):
				if ctx.Type != model.DayVacation && ctx.Type != model.DayHoliday {
					ctx.Type = model.DayWorkFromHome
				}
			default:
				continue
			}
			ctx.Summaries = append(ctx.Summaries, ev.Summary)
		}
		if _, ok := away[dayKey(day)]; ok {
			ctx.AwayAll = true
			if ctx.Type != model.DayVacation {
				ctx.Type = model.DayVacation
			}
		}
		out = append(out, ctx)
	}

	return mergeSparseHolidays(out, cfg.MinHolidayDays)
}

// mergeSparseHolidays reclassifies holiday days into the weekend pool
// when too few exist in the window for detection to be meaningful.
func mergeSparseHolidays(days []model.DayContext, minDays int) []model.DayContext {
	if minDays <= 0 {
		minDays = 10
	}
	holidays := 0
	for _, d := range days {
		if d.Type == model.DayHoliday {
			holidays++
		}
	}
	if holidays >= minDays {
		return days
	}
	for i := range days {
		if days[i].Type == model.DayHoliday {
			days[i].Type = model.DayWeekend
		}
	}
	return days
}

// FallbackDays classifies the range with no calendar at all. Used when
// the calendar fetch fails: detection degrades, never fails.
func FallbackDays(start, end time.Time) []model.DayContext {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil
	}
	var out []model.DayContext
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		out = append(out, model.DayContext{Date: day, Type: baseType(day)})
	}
	return out
}

func baseType(day time.Time) model.DayType {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return model.DayWeekend
	}
	return model.DayWorkday
}

func covers(ev Event, day time.Time) bool {
	dayEnd := day.AddDate(0, 0, 1)
	if ev.End.IsZero() {
		return !ev.Start.Before(day) && ev.Start.Before(dayEnd)
	}
	return ev.Start.Before(dayEnd) && ev.End.After(day)
}

func matchAny(summary string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(summary, kw) {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
