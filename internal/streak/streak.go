// Package streak tracks consecutive calendar days of learner activity.
package streak

import "time"

// DateLayout is the persisted calendar-date format.
const DateLayout = "2006-01-02"

// Update advances a streak given the last visit date ("" for none) and today.
// It returns the new streak and the date to persist as last visit.
func Update(lastVisit string, current int, today time.Time) (int, string) {
	todayOnly := dateOnly(today)
	next := todayOnly.Format(DateLayout)

	if lastVisit == "" {
		return 1, next
	}
	last, err := time.Parse(DateLayout, lastVisit)
	if err != nil {
		return 1, next
	}

	daysDiff := int(todayOnly.Sub(last).Hours() / 24)
	switch {
	case daysDiff <= 0:
		// A last visit in the future means the clock moved backwards; count it as today.
		return current, next
	case daysDiff == 1:
		return current + 1, next
	default:
		return 1, next
	}
}

// dateOnly drops the clock and zone from t, keeping its local calendar date.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
