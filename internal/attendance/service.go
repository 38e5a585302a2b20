// Package attendance maintains the check-in/check-out ledger.
package attendance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
	"campusattend/internal/model"
	"campusattend/internal/notify"
	"campusattend/internal/repo"
	"campusattend/internal/timetable"
)

// SearchLimit caps the number of records Search returns.
const SearchLimit = 50

// Service coordinates check-ins, check-outs and ledger queries.
type Service struct {
	store repo.Store
	loc   *time.Location
	log   *slog.Logger

	Now func() time.Time
}

// NewService creates a ledger service. loc is the zone timetables are written in.
func NewService(store repo.Store, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, loc: loc, log: logger, Now: time.Now}
}

// CheckInResult is the record created by CheckIn and, for late arrivals,
// the notification written with it.
type CheckInResult struct {
	Record       model.AttendanceRecord
	Notification *model.Notification
}

// CheckIn opens a session for userID. The period comes from the caller's
// timetable for the current weekday; without a match it is FreePeriod.
func (s *Service) CheckIn(ctx context.Context, userID, wifiName, blockName string) (CheckInResult, error) {
	wifiName = strings.TrimSpace(wifiName)
	blockName = strings.TrimSpace(blockName)
	if wifiName == "" || blockName == "" {
		return CheckInResult{}, apperr.Validation("Wi-Fi name and block name are required.")
	}
	now := s.Now().In(s.loc)

	var res CheckInResult
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		// Locking the user row serializes concurrent check-ins for the same user.
		user, err := r.Users.GetForUpdate(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if user == nil {
			return apperr.NotFound("User not found.")
		}
		open, err := r.Attendance.LatestOpen(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if open != nil {
			return apperr.State("An active attendance session already exists.")
		}

		entries, err := r.Timetable.ListByUserDay(ctx, userID, model.DayName(now))
		if err != nil {
			return apperr.Unexpected(err)
		}
		period, late := model.FreePeriod, false
		if slot := timetable.Match(entries, now); slot != nil {
			period = slot.Period
			late = timetable.IsLate(*slot, now)
		}

		rec := model.AttendanceRecord{
			UserID:    userID,
			CheckIn:   now.UTC(),
			BlockName: blockName,
			Period:    period,
			WifiName:  wifiName,
			Status:    model.StatusPresent,
		}
		if late {
			rec.Status = model.StatusLate
		}
		if err := r.Attendance.Insert(ctx, &rec); err != nil {
			return apperr.Unexpected(err)
		}
		res.Record = rec

		if late {
			n, err := notify.RecordLateness(ctx, r, *user, period, now.UTC())
			if err != nil {
				return apperr.Unexpected(err)
			}
			res.Notification = n
		}
		return nil
	})
	if err != nil {
		return CheckInResult{}, err
	}
	metrics.CheckIns.WithLabelValues(string(res.Record.Status)).Inc()
	s.log.Info("checked in", "user_id", userID, "period", res.Record.Period, "status", res.Record.Status)
	return res, nil
}

// CheckOut closes userID's most recent open session. Duration is whole
// minutes, rounded down, and the status becomes present.
func (s *Service) CheckOut(ctx context.Context, userID string) (model.AttendanceRecord, error) {
	now := s.Now().UTC()
	var out model.AttendanceRecord
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		rec, err := r.Attendance.LatestOpen(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if rec == nil {
			return apperr.StateNotFound("No active attendance record found.")
		}
		checkOut := now
		if checkOut.Before(rec.CheckIn) {
			checkOut = rec.CheckIn
		}
		minutes := int(checkOut.Sub(rec.CheckIn) / time.Minute)
		rec.CheckOut = &checkOut
		rec.Duration = &minutes
		rec.Status = model.StatusPresent
		if err := r.Attendance.Update(ctx, rec); err != nil {
			return apperr.Unexpected(err)
		}
		out = *rec
		return nil
	})
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	metrics.CheckOuts.Inc()
	return out, nil
}

// Page is one page of a user's history.
type Page struct {
	Records    []model.AttendanceRecord
	Page       int
	PerPage    int
	TotalPages int
	TotalItems int
}

// History pages through userID's records, newest first. page and perPage
// below 1 fall back to 1 and 10; a page past the end is empty.
func (s *Service) History(ctx context.Context, userID string, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	out := Page{Page: page, PerPage: perPage}
	err := s.store.View(ctx, func(r repo.Repos) error {
		total, err := r.Attendance.Count(ctx, repo.AttendanceFilter{UserID: userID})
		if err != nil {
			return apperr.Unexpected(err)
		}
		out.TotalItems = total
		out.TotalPages = (total + perPage - 1) / perPage
		if (page-1)*perPage >= total {
			return nil
		}
		out.Records, err = r.Attendance.List(ctx, repo.AttendanceFilter{
			UserID: userID,
			Limit:  perPage,
			Offset: (page - 1) * perPage,
		})
		if err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	return out, err
}

// Search filters userID's records by free text (period, block or status,
// case-insensitive) and inclusive check-in bounds. At most SearchLimit
// records are returned, newest first.
func (s *Service) Search(ctx context.Context, userID, query string, from, to *time.Time) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		out, err = r.Attendance.List(ctx, repo.AttendanceFilter{
			UserID: userID,
			From:   from,
			To:     to,
			Query:  strings.TrimSpace(query),
			Limit:  SearchLimit,
		})
		if err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	return out, err
}

// ParseBound parses a date filter in loc. Accepted forms are RFC 3339,
// "2006-01-02T15:04:05", "2006-01-02 15:04:05" and "2006-01-02". A bare date
// used as an upper bound covers the whole day.
func ParseBound(s string, upper bool, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, apperr.Validation("Dates must use YYYY-MM-DD format.")
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}
