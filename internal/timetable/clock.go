package timetable

import (
	"fmt"
	"time"

	"campusattend/internal/model"
)

// ParseClock converts "HH:MM" into seconds since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", s, err)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// normalizeClock rewrites accepted clock forms such as "9:05" as "09:05".
func normalizeClock(s string) string {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return s
	}
	return t.Format("15:04")
}

// secondOfDay returns t's wall clock in seconds since midnight.
func secondOfDay(t time.Time) int {
	h, m, s := t.Clock()
	return h*3600 + m*60 + s
}

// Match finds the entry of entries scheduled on now's weekday whose window
// [start, end) contains now's time of day. now must already be in the
// institution's zone. Entries with unparsable times never match.
func Match(entries []model.TimetableEntry, now time.Time) *model.TimetableEntry {
	day := model.DayName(now)
	sec := secondOfDay(now)
	for i := range entries {
		e := entries[i]
		if e.Day != day {
			continue
		}
		start, err := ParseClock(e.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(e.EndTime)
		if err != nil {
			continue
		}
		if start <= sec && sec < end {
			return &e
		}
	}
	return nil
}

// IsLate reports whether now is strictly after the entry's start time.
func IsLate(e model.TimetableEntry, now time.Time) bool {
	start, err := ParseClock(e.StartTime)
	if err != nil {
		return false
	}
	return secondOfDay(now) > start
}
