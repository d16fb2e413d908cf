// Package jobs wires the concrete job kinds of the platform into the
// controller: sales accounting, daily engagement and related products.
package jobs

import (
	"fmt"
	"time"

	"github.com/storelytics/aggregation-engine/internal/source"
)

// Period keys are computed in a single fixed business timezone so that
// scheduled and manual triggers always agree on window boundaries.

// WeekKey returns the ISO week key ("2026-W35") containing t.
func WeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// DayKey returns the calendar day key ("2026-08-30") containing t.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// PreviousWeekKey returns the key of the ISO week before t, the period
// a weekly schedule aggregates when it fires.
func PreviousWeekKey(t time.Time, loc *time.Location) string {
	return WeekKey(t.In(loc).AddDate(0, 0, -7), loc)
}

// PreviousDayKey returns the key of the day before t.
func PreviousDayKey(t time.Time, loc *time.Location) string {
	return DayKey(t.In(loc).AddDate(0, 0, -1), loc)
}

// WeekWindow resolves an ISO week key into the half-open time range
// [monday 00:00, next monday 00:00) on the given sort field.
func WeekWindow(field, periodKey string, loc *time.Location) (source.Window, error) {
	var year, week int
	if _, err := fmt.Sscanf(periodKey, "%d-W%d", &year, &week); err != nil {
		return source.Window{}, fmt.Errorf("parse week key %q: %w", periodKey, err)
	}
	if week < 1 || week > 53 {
		return source.Window{}, fmt.Errorf("week %d out of range in key %q", week, periodKey)
	}

	// January 4th is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	monday := jan4.AddDate(0, 0, -(wd-1)+(week-1)*7)

	// Week 53 only exists in long ISO years; for the others the
	// arithmetic above lands on the next year's week 1, which would
	// double-cover that week's data under a bogus key.
	if y, w := monday.ISOWeek(); y != year || w != week {
		return source.Window{}, fmt.Errorf("week %d does not exist in iso year %d", week, year)
	}

	return source.Window{
		Field: field,
		From:  monday,
		To:    monday.AddDate(0, 0, 7),
	}, nil
}

// DayWindow resolves a day key into the half-open range covering that
// calendar day on the given sort field.
func DayWindow(field, periodKey string, loc *time.Location) (source.Window, error) {
	day, err := time.ParseInLocation("2006-01-02", periodKey, loc)
	if err != nil {
		return source.Window{}, fmt.Errorf("parse day key %q: %w", periodKey, err)
	}
	return source.Window{
		Field: field,
		From:  day,
		To:    day.AddDate(0, 0, 1),
	}, nil
}
