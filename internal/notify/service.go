// Package notify owns faculty notifications and outbound student mail.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// Service lists and acknowledges notifications and sends class digests.
type Service struct {
	store  repo.Store
	mailer Mailer
	loc    *time.Location
	log    *slog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewService wires the notification service. loc decides which day is "tomorrow".
func NewService(store repo.Store, mailer Mailer, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, mailer: mailer, loc: loc, log: logger, Now: time.Now}
}

// RecordLateness writes a notification to the first faculty member of the
// student's department. It returns nil when the department has no faculty.
// It runs inside the caller's unit of work.
func RecordLateness(ctx context.Context, r repo.Repos, student model.User, period string, at time.Time) (*model.Notification, error) {
	faculty, err := r.Users.FirstFacultyInDepartment(ctx, student.Department())
	if err != nil {
		return nil, err
	}
	if faculty == nil {
		return nil, nil
	}
	n := &model.Notification{
		FacultyID: faculty.UserID,
		StudentID: student.UserID,
		Message:   fmt.Sprintf("Student %s is late for %s class.", student.Name, period),
		CreatedAt: at,
	}
	if err := r.Notifications.Insert(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.Inc()
	return n, nil
}

func requireFaculty(ctx context.Context, r repo.Repos, userID string) error {
	u, err := r.Users.GetByUserID(ctx, userID)
	if err != nil {
		return apperr.Unexpected(err)
	}
	if u == nil || u.Role() != model.RoleFaculty {
		return apperr.Forbidden("Access denied")
	}
	return nil
}

// Unread returns the faculty member's unread notifications, newest first.
func (s *Service) Unread(ctx context.Context, facultyID string) ([]model.Notification, error) {
	var out []model.Notification
	err := s.store.View(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		list, err := r.Notifications.ListUnread(ctx, facultyID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		out = list
		return nil
	})
	return out, err
}

// MarkRead flips the read flag on one of the caller's notifications.
func (s *Service) MarkRead(ctx context.Context, facultyID, notificationID string) error {
	return s.store.WithTx(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		if notificationID == "" {
			return apperr.Validation("Notification ID is required")
		}
		n, err := r.Notifications.Get(ctx, notificationID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if n == nil || n.FacultyID != facultyID {
			return apperr.NotFound("Notification not found")
		}
		if err := r.Notifications.MarkRead(ctx, notificationID); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
}

// Tomorrow returns the timetable day name after now in the service zone.
func (s *Service) Tomorrow() string {
	return model.DayName(s.Now().In(s.loc).AddDate(0, 0, 1))
}

// UpcomingClasses mails the caller tomorrow's classes and returns them.
// Mail failures are logged, not returned.
func (s *Service) UpcomingClasses(ctx context.Context, userID string) ([]model.TimetableEntry, error) {
	day := s.Tomorrow()
	var (
		user    *model.User
		classes []model.TimetableEntry
	)
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if user, err = r.Users.GetByUserID(ctx, userID); err != nil {
			return apperr.Unexpected(err)
		}
		if user == nil {
			return apperr.NotFound("User not found.")
		}
		if classes, err = r.Timetable.ListByUserDay(ctx, userID, day); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, apperr.NotFound("No classes found for tomorrow.")
	}
	s.send(ctx, DigestMail(user.Email, classes))
	return classes, nil
}

// SendDigests mails every student with classes tomorrow. It returns how many
// digests were handed to the mailer.
func (s *Service) SendDigests(ctx context.Context) (int, error) {
	day := s.Tomorrow()
	var mails []Mail
	err := s.store.View(ctx, func(r repo.Repos) error {
		students, err := r.Users.ListStudents(ctx)
		if err != nil {
			return err
		}
		for _, st := range students {
			classes, err := r.Timetable.ListByUserDay(ctx, st.UserID, day)
			if err != nil {
				return err
			}
			if len(classes) > 0 {
				mails = append(mails, DigestMail(st.Email, classes))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("collect digests: %w", err)
	}
	for _, m := range mails {
		s.send(ctx, m)
	}
	s.log.Info("upcoming class digests sent", "day", day, "count", len(mails))
	return len(mails), nil
}

// DigestMail renders the "Upcoming Classes" message for classes.
func DigestMail(to string, classes []model.TimetableEntry) Mail {
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d classes tomorrow:\n", len(classes))
	for i, c := range classes {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s at %s in %s", c.Period, c.StartTime, c.BlockName)
	}
	return Mail{To: to, Subject: "Upcoming Classes", Body: b.String()}
}

func (s *Service) send(ctx context.Context, m Mail) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, m); err != nil {
		s.log.Warn("mail send failed", "to", m.To, "subject", m.Subject, "error", err)
	}
}
