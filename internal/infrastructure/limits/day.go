// Package limits counts successful purchases per configuration and day.
package limits

import "time"

// dayKey is the calendar day of at in its own location.
func dayKey(at time.Time) string {
	return at.Format(time.DateOnly)
}

// endOfDay is the first instant of the next day in at's location.
func endOfDay(at time.Time) time.Time {
	y, m, d := at.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, at.Location())
}
