// Package analytics aggregates the attendance ledger into percentages, risk
// zones and time-bucketed trends. The functions in this file are pure; the
// Service loads their inputs from the store.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"campusattend/internal/model"
)

// Percent is attended/total*100, or 0 when total is 0. It is not rounded.
func Percent(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(attended) / float64(total) * 100
}

// Round2 rounds v to two decimal places for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Zone is a risk bucket.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

// ZoneOf classifies an unrounded percentage: green at 75 and above, yellow
// from 60 up to 75, red below 60.
func ZoneOf(pct float64) Zone {
	switch {
	case pct >= 75:
		return ZoneGreen
	case pct >= 60:
		return ZoneYellow
	default:
		return ZoneRed
	}
}

// Summary counts one user's records. Attended counts present records only;
// late records are reported separately.
type Summary struct {
	Total    int
	Attended int
	Late     int
}

// Percent of attended records.
func (s Summary) Percent() float64 { return Percent(s.Attended, s.Total) }

// Summarize counts records by status.
func Summarize(records []model.AttendanceRecord) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch r.Status {
		case model.StatusPresent:
			s.Attended++
		case model.StatusLate:
			s.Late++
		}
	}
	return s
}

// Bucket is attended/total for one time bucket.
type Bucket struct {
	Label    string
	Total    int
	Attended int
}

// Rate is the bucket's unrounded attendance percentage.
func (b Bucket) Rate() float64 { return Percent(b.Attended, b.Total) }

// WeekLabel formats t's ISO week as "2006-W01".
func WeekLabel(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// DayLabel formats t's calendar date.
func DayLabel(t time.Time) string {
	return t.Format("2006-01-02")
}

// GroupBy buckets records by label(check-in time in loc) and returns the
// buckets in ascending label order.
func GroupBy(records []model.AttendanceRecord, loc *time.Location, label func(time.Time) string) []Bucket {
	idx := map[string]int{}
	var out []Bucket
	for _, r := range records {
		key := label(r.CheckIn.In(loc))
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, Bucket{Label: key})
		}
		out[i].Total++
		if r.Status == model.StatusPresent {
			out[i].Attended++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Point is one sample of a trend series.
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Series turns buckets into rounded {x, y} points.
func Series(buckets []Bucket) []Point {
	out := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Point{X: b.Label, Y: Round2(b.Rate())})
	}
	return out
}

// MeanRate averages the bucket rates; 0 when there are no buckets.
func MeanRate(buckets []Bucket) float64 {
	if len(buckets) == 0 {
		return 0
	}
	var sum float64
	for _, b := range buckets {
		sum += b.Rate()
	}
	return sum / float64(len(buckets))
}

// StudentStat is a student's attendance over a set of records.
type StudentStat struct {
	UserID   string
	Name     string
	Total    int
	Attended int
}

// Percent of attended records, unrounded.
func (s StudentStat) Percent() float64 { return Percent(s.Attended, s.Total) }

// wholePercent mirrors integer SQL arithmetic: attended*100/total, truncated.
func (s StudentStat) wholePercent() int {
	return s.Attended * 100 / s.Total
}

// PerStudent joins students to their records. When withRecordsOnly is set,
// students without records are left out, as in an inner join.
func PerStudent(students []model.User, records []model.AttendanceRecord, withRecordsOnly bool) []StudentStat {
	byUser := map[string]*StudentStat{}
	out := make([]*StudentStat, 0, len(students))
	for _, u := range students {
		st := &StudentStat{UserID: u.UserID, Name: u.Name}
		byUser[u.UserID] = st
		out = append(out, st)
	}
	for _, r := range records {
		st, ok := byUser[r.UserID]
		if !ok {
			continue
		}
		st.Total++
		if r.Status == model.StatusPresent {
			st.Attended++
		}
	}
	result := make([]StudentStat, 0, len(out))
	for _, st := range out {
		if withRecordsOnly && st.Total == 0 {
			continue
		}
		result = append(result, *st)
	}
	return result
}

// AtOrBelow selects students whose whole-number percentage does not exceed
// pct. Inputs must come from PerStudent with withRecordsOnly set.
func AtOrBelow(stats []StudentStat, pct float64) []StudentStat {
	var out []StudentStat
	for _, s := range stats {
		if s.Total > 0 && float64(s.wholePercent()) <= pct {
			out = append(out, s)
		}
	}
	return out
}

// DetentionCutoff is the whole-number percentage below which a student is detained.
const DetentionCutoff = 75

// Detained selects students whose whole-number percentage is below
// DetentionCutoff.
func Detained(stats []StudentStat) []StudentStat {
	var out []StudentStat
	for _, s := range stats {
		if s.Total > 0 && s.wholePercent() < DetentionCutoff {
			out = append(out, s)
		}
	}
	return out
}

// ZoneCounts tallies students per zone. Every zone is present in the result.
func ZoneCounts(stats []StudentStat) map[Zone]int {
	out := map[Zone]int{ZoneGreen: 0, ZoneYellow: 0, ZoneRed: 0}
	for _, s := range stats {
		out[ZoneOf(s.Percent())]++
	}
	return out
}

// PeriodStat is one row of the faculty statistics report.
type PeriodStat struct {
	Period        string `json:"period"`
	TotalStudents int    `json:"total_students"`
	PresentCount  int    `json:"present_count"`
}

// PeriodStatistics left-joins timetable rows to records on (user, period)
// and groups by period: distinct users with a matching record and the
// number of present matches. A period listed twice joins its records twice.
func PeriodStatistics(rows []model.TimetableEntry, records []model.AttendanceRecord) []PeriodStat {
	type key struct{ user, period string }
	byKey := map[key][]model.AttendanceRecord{}
	for _, r := range records {
		k := key{r.UserID, r.Period}
		byKey[k] = append(byKey[k], r)
	}
	type acc struct {
		users   map[string]bool
		present int
	}
	groups := map[string]*acc{}
	var order []string
	for _, row := range rows {
		g, ok := groups[row.Period]
		if !ok {
			g = &acc{users: map[string]bool{}}
			groups[row.Period] = g
			order = append(order, row.Period)
		}
		for _, r := range byKey[key{row.UserID, row.Period}] {
			g.users[r.UserID] = true
			if r.Status == model.StatusPresent {
				g.present++
			}
		}
	}
	sort.Strings(order)
	out := make([]PeriodStat, 0, len(order))
	for _, p := range order {
		out = append(out, PeriodStat{Period: p, TotalStudents: len(groups[p].users), PresentCount: groups[p].present})
	}
	return out
}
