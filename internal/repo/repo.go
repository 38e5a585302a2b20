// Package repo declares the persistence contracts the services depend on.
// Implementations live in repo/postgres and repo/memory.
//
// Lookups of a single entity return (nil, nil) when nothing matches.
package repo

import (
	"context"
	"time"

	"campusattend/internal/model"
)

// UserRepo stores identity records.
type UserRepo interface {
	Create(ctx context.Context, u *model.User) error
	Update(ctx context.Context, u *model.User) error
	GetByUserID(ctx context.Context, userID string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetForUpdate reads the user and locks the row until the transaction ends.
	GetForUpdate(ctx context.Context, userID string) (*model.User, error)
	// FirstFacultyInDepartment returns the earliest-registered faculty member of dept.
	FirstFacultyInDepartment(ctx context.Context, dept string) (*model.User, error)
	// ListStudents returns every student ordered by user id.
	ListStudents(ctx context.Context) ([]model.User, error)
	// ListStudentsInBranch returns the students whose branch equals branch
	// exactly, ordered by user id.
	ListStudentsInBranch(ctx context.Context, branch string) ([]model.User, error)
}

// TimetableRepo stores weekly schedule entries.
type TimetableRepo interface {
	// Upsert inserts the entry or overwrites the existing (user, day, period) slot.
	Upsert(ctx context.Context, e *model.TimetableEntry) error
	// ListByUser orders by weekday (monday first) then start time.
	ListByUser(ctx context.Context, userID string) ([]model.TimetableEntry, error)
	// ListByUserDay orders by start time.
	ListByUserDay(ctx context.Context, userID, day string) ([]model.TimetableEntry, error)
	// ListByDay returns every user's entries for day ordered by user then start time.
	ListByDay(ctx context.Context, day string) ([]model.TimetableEntry, error)
}

// AttendanceFilter narrows ledger listings. Zero values mean "no bound".
type AttendanceFilter struct {
	UserID string
	From   *time.Time
	To     *time.Time
	// Query matches period, block name or status, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

// AttendanceRepo stores the check-in/check-out ledger.
type AttendanceRepo interface {
	Insert(ctx context.Context, r *model.AttendanceRecord) error
	Update(ctx context.Context, r *model.AttendanceRecord) error
	Get(ctx context.Context, id string) (*model.AttendanceRecord, error)
	// LatestOpen returns the most recent record of userID with no check-out.
	LatestOpen(ctx context.Context, userID string) (*model.AttendanceRecord, error)
	// List orders by check-in time, newest first, then by id descending.
	List(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error)
	Count(ctx context.Context, f AttendanceFilter) (int, error)
}

// CorrectionRepo stores correction requests.
type CorrectionRepo interface {
	Insert(ctx context.Context, c *model.CorrectionRequest) error
	Update(ctx context.Context, c *model.CorrectionRequest) error
	Get(ctx context.Context, id string) (*model.CorrectionRequest, error)
	// GetForUpdate reads the request and locks the row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*model.CorrectionRequest, error)
	// ListByStatus orders by creation time, oldest first.
	ListByStatus(ctx context.Context, status model.CorrectionStatus) ([]model.CorrectionRequest, error)
}

// NotificationRepo stores faculty notifications.
type NotificationRepo interface {
	Insert(ctx context.Context, n *model.Notification) error
	Get(ctx context.Context, id string) (*model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	// ListUnread orders by creation time, newest first.
	ListUnread(ctx context.Context, facultyID string) ([]model.Notification, error)
}

// ActivityRepo appends account audit entries.
type ActivityRepo interface {
	Insert(ctx context.Context, a *model.Activity) error
}

// Repos is the set of repositories bound to one transaction.
type Repos struct {
	Users         UserRepo
	Timetable     TimetableRepo
	Attendance    AttendanceRepo
	Corrections   CorrectionRepo
	Notifications NotificationRepo
	Activity      ActivityRepo
}

// Store runs units of work. If fn returns an error nothing it wrote is kept.
type Store interface {
	WithTx(ctx context.Context, fn func(Repos) error) error
	View(ctx context.Context, fn func(Repos) error) error
	Ping(ctx context.Context) error
}
