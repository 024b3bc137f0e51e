// Package recurrence turns recurring templates into task instances.
//
// Dates are calendar dates with no timezone: they are parsed from and formatted
// to YYYY-MM-DD and carried as midnight UTC so that date arithmetic never
// crosses a DST boundary.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"task-tracker/internal/task-tracker/db"
)

const DateLayout = "2006-01-02"

const (
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyAnnual  = "annual"
)

// daysPerMonth is the fixed length of a "month" for monthly templates.
const daysPerMonth = 30

// maxYear is the last year a YYYY-MM-DD date can carry.
const maxYear = 9999

// maxIntervals caps Interval per frequency at roughly a century, so a period
// always fits in a date and never overflows the day arithmetic.
var maxIntervals = map[string]int{
	FrequencyWeekly:  5200,
	FrequencyMonthly: 1200,
	FrequencyAnnual:  100,
}

// MaxInterval is the largest Interval accepted for frequency, or 0 if the
// frequency is unknown.
func MaxInterval(frequency string) int {
	return maxIntervals[frequency]
}

// ErrUnrecognizedTemplate marks a stored template the runner cannot schedule.
var ErrUnrecognizedTemplate = errors.New("unrecognized recurring template")

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// CalendarDate drops the clock and location of t, keeping its local calendar date.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextDue returns the next occurrence date of tmpl.
//
// A template that has never generated is first due on its start date. After
// that the next occurrence is the cursor plus one period: Interval weeks,
// Interval*30 days, or Interval calendar years.
func NextDue(tmpl *db.RecurringTemplate) (time.Time, error) {
	if !knownFrequency(tmpl.Frequency) {
		return time.Time{}, fmt.Errorf("%w: template %d frequency %q", ErrUnrecognizedTemplate, tmpl.ID, tmpl.Frequency)
	}
	if tmpl.Interval <= 0 || tmpl.Interval > MaxInterval(tmpl.Frequency) {
		return time.Time{}, fmt.Errorf("%w: template %d has interval %d", ErrUnrecognizedTemplate, tmpl.ID, tmpl.Interval)
	}
	start, err := ParseDate(tmpl.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: template %d start date: %v", ErrUnrecognizedTemplate, tmpl.ID, err)
	}
	if tmpl.LastGenerated == nil {
		return start, nil
	}

	cursor, err := ParseDate(*tmpl.LastGenerated)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: template %d cursor: %v", ErrUnrecognizedTemplate, tmpl.ID, err)
	}
	return advance(tmpl, cursor)
}

// IsDue reports whether tmpl has an occurrence on or before today, and which date it is.
func IsDue(tmpl *db.RecurringTemplate, today time.Time) (time.Time, bool, error) {
	next, err := NextDue(tmpl)
	if err != nil {
		return time.Time{}, false, err
	}
	return next, !CalendarDate(today).Before(next), nil
}

// advance moves from by exactly one period of tmpl, whose frequency and
// interval are already checked. The result is always after from and within
// year 9999.
func advance(tmpl *db.RecurringTemplate, from time.Time) (time.Time, error) {
	var next time.Time
	switch tmpl.Frequency {
	case FrequencyWeekly:
		next = from.AddDate(0, 0, tmpl.Interval*7)
	case FrequencyMonthly:
		next = from.AddDate(0, 0, tmpl.Interval*daysPerMonth)
	case FrequencyAnnual:
		next = addYears(from, tmpl.Interval)
	}
	if !next.After(from) || next.Year() > maxYear {
		return time.Time{}, fmt.Errorf("%w: template %d has no occurrence after %s",
			ErrUnrecognizedTemplate, tmpl.ID, FormatDate(from))
	}
	return next, nil
}

// addYears keeps month and day, clamping Feb 29 to Feb 28 in non-leap years.
func addYears(d time.Time, years int) time.Time {
	y, m, day := d.Date()
	target := y + years
	if last := daysInMonth(target, m); day > last {
		day = last
	}
	return time.Date(target, m, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func knownFrequency(f string) bool {
	_, ok := maxIntervals[f]
	return ok
}
