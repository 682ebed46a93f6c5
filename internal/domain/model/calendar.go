package model

import "time"

// monthGridCells is six full weeks.
const monthGridCells = 42

// weekdayLabels are Monday-first single-letter labels.
var weekdayLabels = [7]string{"L", "M", "M", "J", "V", "S", "D"}

// CalendarDay is one cell of the week strip or month grid.
type CalendarDay struct {
	Date           string `json:"date"`
	Day            int    `json:"day"`
	Label          string `json:"label,omitempty"`
	IsCurrentMonth bool   `json:"is_current_month"`
	IsToday        bool   `json:"is_today"`
	IsActive       bool   `json:"is_active"`
}

func newCalendarDay(d, today time.Time) CalendarDay {
	return CalendarDay{
		Date:    d.Format(time.DateOnly),
		Day:     d.Day(),
		IsToday: d.Equal(today),
	}
}

// WeekStrip returns the Monday-to-Sunday week containing today. Days up to and
// including today are active.
func WeekStrip(now time.Time) []CalendarDay {
	today := CivilDate(now)
	offset := (int(today.Weekday()) + 6) % 7
	monday := today.AddDate(0, 0, -offset)

	out := make([]CalendarDay, 0, 7)
	for i := range 7 {
		d := monday.AddDate(0, 0, i)
		day := newCalendarDay(d, today)
		day.Label = weekdayLabels[i]
		day.IsCurrentMonth = d.Month() == today.Month()
		day.IsActive = !d.After(today)
		out = append(out, day)
	}
	return out
}

// MonthGrid returns a 42-cell grid for the month, starting on the Sunday on or
// before the first day. Only days of the month up to today are active.
func MonthGrid(year int, month time.Month, now time.Time) []CalendarDay {
	today := CivilDate(now)
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, 0, -int(first.Weekday()))

	out := make([]CalendarDay, 0, monthGridCells)
	for i := range monthGridCells {
		d := start.AddDate(0, 0, i)
		day := newCalendarDay(d, today)
		day.IsCurrentMonth = d.Month() == month && d.Year() == year
		if !day.IsCurrentMonth {
			day.IsToday = false
		}
		day.IsActive = day.IsCurrentMonth && !d.After(today)
		out = append(out, day)
	}
	return out
}
