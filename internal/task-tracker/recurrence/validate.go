package recurrence

import (
	"errors"
	"fmt"
	"strings"

	"task-tracker/internal/task-tracker/db"
)

// ErrInvalidTemplate is returned when a template is rejected at creation time.
var ErrInvalidTemplate = errors.New("invalid recurring template")

// ValidateTemplate checks a template before it is stored. Bad rows must never
// reach the runner through this path; rows that do anyway are skipped there.
func ValidateTemplate(tmpl *db.RecurringTemplate) error {
	if strings.TrimSpace(tmpl.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	}
	if !knownFrequency(tmpl.Frequency) {
		return fmt.Errorf("%w: frequency must be one of %s, %s, %s; got %q",
			ErrInvalidTemplate, FrequencyWeekly, FrequencyMonthly, FrequencyAnnual, tmpl.Frequency)
	}
	if tmpl.Interval <= 0 {
		return fmt.Errorf("%w: interval must be a positive integer; got %d", ErrInvalidTemplate, tmpl.Interval)
	}
	if limit := MaxInterval(tmpl.Frequency); tmpl.Interval > limit {
		return fmt.Errorf("%w: interval for %s templates must be at most %d; got %d",
			ErrInvalidTemplate, tmpl.Frequency, limit, tmpl.Interval)
	}
	start, err := ParseDate(tmpl.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date %q is not a YYYY-MM-DD date", ErrInvalidTemplate, tmpl.StartDate)
	}
	if _, err := advance(tmpl, start); err != nil {
		return fmt.Errorf("%w: start_date %s leaves no room for a second occurrence", ErrInvalidTemplate, tmpl.StartDate)
	}
	if tmpl.LastGenerated != nil {
		cursor, err := ParseDate(*tmpl.LastGenerated)
		if err != nil {
			return fmt.Errorf("%w: last_generated %q is not a YYYY-MM-DD date", ErrInvalidTemplate, *tmpl.LastGenerated)
		}
		if cursor.Before(start) {
			return fmt.Errorf("%w: last_generated %s is before start_date %s", ErrInvalidTemplate, *tmpl.LastGenerated, tmpl.StartDate)
		}
	}
	return nil
}
