// Package timetable stores weekly class slots and resolves the slot a
// check-in falls into.
package timetable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"campusattend/internal/apperr"
	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// EntryInput is one slot as submitted by faculty.
type EntryInput struct {
	UserID    string `json:"timetable_user_id" validate:"required"`
	Day       string `json:"day" validate:"required,weekday"`
	Period    string `json:"period" validate:"required"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
	BlockName string `json:"block_name"`
	WifiName  string `json:"wifi_name" validate:"required"`
}

// NewValidator returns a validator that knows the weekday and clock tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return model.WeekdayIndex(fl.Field().String()) >= 0
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Service manages timetable entries.
type Service struct {
	store    repo.Store
	validate *validator.Validate
	log      *slog.Logger
}

// NewService builds the timetable service.
func NewService(store repo.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, validate: NewValidator(), log: logger}
}

// check normalizes in and reports the first problem as a user-facing message.
func (s *Service) check(in *EntryInput) error {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Day = strings.ToLower(strings.TrimSpace(in.Day))
	in.Period = strings.TrimSpace(in.Period)
	in.StartTime = strings.TrimSpace(in.StartTime)
	in.EndTime = strings.TrimSpace(in.EndTime)

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return apperr.Validation(err.Error())
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return apperr.Validation("All fields are required.")
			}
		}
		switch verrs[0].Tag() {
		case "weekday":
			return apperr.Validation("Day must be a weekday name.")
		case "clock":
			return apperr.Validation("Times must use HH:MM format.")
		default:
			return apperr.Validation(verrs[0].Error())
		}
	}
	in.StartTime = normalizeClock(in.StartTime)
	in.EndTime = normalizeClock(in.EndTime)
	start, _ := ParseClock(in.StartTime)
	end, _ := ParseClock(in.EndTime)
	if end <= start {
		return apperr.Validation("End time must be after start time.")
	}
	return nil
}

func requireFaculty(ctx context.Context, r repo.Repos, userID string) error {
	u, err := r.Users.GetByUserID(ctx, userID)
	if err != nil {
		return apperr.Unexpected(err)
	}
	if u == nil || u.Role() != model.RoleFaculty {
		return apperr.Forbidden("Only faculty can enter timetable.")
	}
	return nil
}

func upsert(ctx context.Context, r repo.Repos, in EntryInput) (*model.TimetableEntry, error) {
	owner, err := r.Users.GetByUserID(ctx, in.UserID)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if owner == nil {
		return nil, apperr.NotFound(fmt.Sprintf("User %s not found.", in.UserID))
	}
	e := &model.TimetableEntry{
		UserID:    in.UserID,
		Day:       in.Day,
		Period:    in.Period,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		BlockName: in.BlockName,
		WifiName:  in.WifiName,
	}
	if err := r.Timetable.Upsert(ctx, e); err != nil {
		return nil, apperr.Unexpected(err)
	}
	return e, nil
}

// Enter records one slot on behalf of facultyID. An existing slot with the
// same (user, day, period) is overwritten.
func (s *Service) Enter(ctx context.Context, facultyID string, in EntryInput) (*model.TimetableEntry, error) {
	if err := s.check(&in); err != nil {
		return nil, err
	}
	var out *model.TimetableEntry
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		var err error
		out, err = upsert(ctx, r, in)
		return err
	})
	return out, err
}

// Import reads slots from the first sheet of an XLSX workbook. The first row
// is a header; columns are user id, day, period, start, end, block, wifi.
// Either every row is stored or none is.
func (s *Service) Import(ctx context.Context, facultyID string, workbook io.Reader) (int, error) {
	f, err := excelize.OpenReader(workbook)
	if err != nil {
		return 0, apperr.Validation("File is not a readable XLSX workbook.")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, apperr.Validation("Workbook has no sheets.")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, apperr.Validation("Workbook could not be read.")
	}

	var inputs []EntryInput
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		in := EntryInput{
			UserID:    cell(row, 0),
			Day:       cell(row, 1),
			Period:    cell(row, 2),
			StartTime: cell(row, 3),
			EndTime:   cell(row, 4),
			BlockName: cell(row, 5),
			WifiName:  cell(row, 6),
		}
		if err := s.check(&in); err != nil {
			return 0, apperr.Validation(fmt.Sprintf("Row %d: %s", i+1, apperr.As(err).Message))
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		return 0, apperr.Validation("Workbook contains no timetable rows.")
	}

	err = s.store.WithTx(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		for _, in := range inputs {
			if _, err := upsert(ctx, r, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("timetable imported", "faculty_id", facultyID, "rows", len(inputs))
	return len(inputs), nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// List returns userID's entries ordered monday to sunday, then by start time.
func (s *Service) List(ctx context.Context, userID string) ([]model.TimetableEntry, error) {
	var out []model.TimetableEntry
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if out, err = r.Timetable.ListByUser(ctx, userID); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	return out, err
}

// StudentTimetable is List but fails when the user has no entries.
func (s *Service) StudentTimetable(ctx context.Context, userID string) ([]model.TimetableEntry, error) {
	out, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("Timetable not found.")
	}
	return out, nil
}
