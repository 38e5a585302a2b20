package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// TrendWindow is the span of the daily analytics and department trend.
const TrendWindow = 30 * 24 * time.Hour

// Service answers analytics queries from the store.
type Service struct {
	store repo.Store
	loc   *time.Location

	Now func() time.Time
}

// NewService builds the analytics service. loc decides week and day boundaries.
func NewService(store repo.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc, Now: time.Now}
}

func (s *Service) records(ctx context.Context, f repo.AttendanceFilter) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		out, err = r.Attendance.List(ctx, f)
		return err
	})
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return out, nil
}

// StudentSummary counts userID's records.
func (s *Service) StudentSummary(ctx context.Context, userID string) (Summary, error) {
	recs, err := s.records(ctx, repo.AttendanceFilter{UserID: userID})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(recs), nil
}

// WeeklyReport returns userID's four most recent ISO weeks, newest first.
func (s *Service) WeeklyReport(ctx context.Context, userID string) ([]Bucket, error) {
	recs, err := s.records(ctx, repo.AttendanceFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	weeks := GroupBy(recs, s.loc, WeekLabel)
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Label > weeks[j].Label })
	if len(weeks) > 4 {
		weeks = weeks[:4]
	}
	return weeks, nil
}

// WeeklyTrend returns every ISO week of userID's records, oldest first.
func (s *Service) WeeklyTrend(ctx context.Context, userID string) ([]Bucket, error) {
	recs, err := s.records(ctx, repo.AttendanceFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	return GroupBy(recs, s.loc, WeekLabel), nil
}

// Daily is the 30-day analytics of one user.
type Daily struct {
	// Overall is the mean of the daily rates.
	Overall float64
	Days    []Bucket
}

func (s *Service) window() (time.Time, time.Time) {
	end := s.Now()
	return end.Add(-TrendWindow), end
}

// DailyAnalytics buckets userID's last 30 days by calendar date.
func (s *Service) DailyAnalytics(ctx context.Context, userID string) (Daily, error) {
	from, to := s.window()
	recs, err := s.records(ctx, repo.AttendanceFilter{UserID: userID, From: &from, To: &to})
	if err != nil {
		return Daily{}, err
	}
	days := GroupBy(recs, s.loc, DayLabel)
	return Daily{Overall: MeanRate(days), Days: days}, nil
}

// DepartmentReport is the faculty view of their department's students.
type DepartmentReport struct {
	Students []StudentStat
	Zones    map[Zone]int
	// Trend is the daily rate over the department's last 30 days.
	Trend []Bucket
}

// StudentAnalytics reports on students whose branch equals the faculty
// member's department.
func (s *Service) StudentAnalytics(ctx context.Context, facultyID string) (DepartmentReport, error) {
	from, to := s.window()
	var (
		students []model.User
		all      []model.AttendanceRecord
	)
	err := s.store.View(ctx, func(r repo.Repos) error {
		f, err := r.Users.GetByUserID(ctx, facultyID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if f == nil || f.Role() != model.RoleFaculty {
			return apperr.Forbidden("Access denied")
		}
		// A faculty member without a department has no students.
		if strings.TrimSpace(f.Department()) == "" {
			return nil
		}
		if students, err = r.Users.ListStudentsInBranch(ctx, f.Department()); err != nil {
			return apperr.Unexpected(err)
		}
		if all, err = r.Attendance.List(ctx, repo.AttendanceFilter{}); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	if err != nil {
		return DepartmentReport{}, err
	}

	stats := PerStudent(students, all, false)
	inDept := map[string]bool{}
	for _, st := range students {
		inDept[st.UserID] = true
	}
	var recent []model.AttendanceRecord
	for _, r := range all {
		if inDept[r.UserID] && !r.CheckIn.Before(from) && !r.CheckIn.After(to) {
			recent = append(recent, r)
		}
	}
	return DepartmentReport{
		Students: stats,
		Zones:    ZoneCounts(stats),
		Trend:    GroupBy(recent, s.loc, DayLabel),
	}, nil
}

// Overall is present records over all records, system-wide.
func (s *Service) Overall(ctx context.Context) (float64, error) {
	recs, err := s.records(ctx, repo.AttendanceFilter{})
	if err != nil {
		return 0, err
	}
	sum := Summarize(recs)
	return sum.Percent(), nil
}

// FacultyStatistics groups the caller's own timetable rows with matching
// records; see PeriodStatistics.
func (s *Service) FacultyStatistics(ctx context.Context, facultyID string) ([]PeriodStat, error) {
	var (
		rows []model.TimetableEntry
		recs []model.AttendanceRecord
	)
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if rows, err = r.Timetable.ListByUser(ctx, facultyID); err != nil {
			return err
		}
		recs, err = r.Attendance.List(ctx, repo.AttendanceFilter{UserID: facultyID})
		return err
	})
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return PeriodStatistics(rows, recs), nil
}

// Students returns per-student totals over records checked in within
// [from, to], skipping students with no records there. Nil bounds are open.
func (s *Service) Students(ctx context.Context, from, to *time.Time) ([]StudentStat, error) {
	var (
		students []model.User
		recs     []model.AttendanceRecord
	)
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if students, err = r.Users.ListStudents(ctx); err != nil {
			return err
		}
		recs, err = r.Attendance.List(ctx, repo.AttendanceFilter{From: from, To: to})
		return err
	})
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return PerStudent(students, recs, true), nil
}

// StudentsByAttendance lists students at or below pct.
func (s *Service) StudentsByAttendance(ctx context.Context, pct float64) ([]StudentStat, error) {
	stats, err := s.Students(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return AtOrBelow(stats, pct), nil
}

// DetainedStudents lists students below the detention cutoff.
func (s *Service) DetainedStudents(ctx context.Context) ([]StudentStat, error) {
	stats, err := s.Students(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return Detained(stats), nil
}
