package model

import (
	"strings"
	"time"
)

// Role identifies which profile variant a user carries.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
)

// ParseRole normalizes a role name; ok is false for anything but student/faculty.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleFaculty:
		return r, true
	default:
		return "", false
	}
}

// Profile is the closed set of role-specific attributes. Only Student and
// Faculty implement it.
type Profile interface {
	Role() Role
	profile()
}

// Student holds the attributes only students have.
type Student struct {
	Year   string `json:"year"`
	Branch string `json:"branch"`
}

func (Student) Role() Role { return RoleStudent }
func (Student) profile()   {}

// Faculty holds the attributes only faculty members have.
type Faculty struct {
	Department string `json:"department"`
}

func (Faculty) Role() Role { return RoleFaculty }
func (Faculty) profile()   {}

// User is an identity record. UserID is the externally visible, stable identifier.
type User struct {
	ID               string
	UserID           string
	Name             string
	Email            string
	PasswordHash     string
	Profile          Profile
	ResetToken       *string
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time
}

// Role derives the role from the profile variant.
func (u User) Role() Role {
	if u.Profile == nil {
		return ""
	}
	return u.Profile.Role()
}

// Department is the grouping key used to pair students with faculty:
// a faculty member's department, or a student's branch.
func (u User) Department() string {
	switch p := u.Profile.(type) {
	case Student:
		return p.Branch
	case Faculty:
		return p.Department
	default:
		return ""
	}
}

// TimetableEntry is one scheduled class slot. Times are "HH:MM".
type TimetableEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Day       string `json:"day"`
	Period    string `json:"period"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	BlockName string `json:"block_name"`
	WifiName  string `json:"wifi_name"`
}

// Weekdays in timetable order.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayIndex returns the 0-based position of day in Weekdays, or -1.
func WeekdayIndex(day string) int {
	for i, d := range Weekdays {
		if d == day {
			return i
		}
	}
	return -1
}

// DayName returns the lower-case weekday name used in timetables.
func DayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// AttendanceStatus is the derived status of a ledger record.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether s is a known status.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	default:
		return false
	}
}

// FreePeriod is recorded when no timetable slot matches the check-in time.
const FreePeriod = "free_period"

// AttendanceRecord is one check-in/check-out cycle. CheckOut is nil while the
// session is open; Duration is set only at checkout.
type AttendanceRecord struct {
	ID        string
	UserID    string
	CheckIn   time.Time
	CheckOut  *time.Time
	BlockName string
	Period    string
	WifiName  string
	Duration  *int
	Status    AttendanceStatus
}

// Open reports whether the record has not been checked out yet.
func (r AttendanceRecord) Open() bool { return r.CheckOut == nil }

// CorrectionStatus is the lifecycle state of a correction request.
type CorrectionStatus string

const (
	CorrectionPending  CorrectionStatus = "pending"
	CorrectionApproved CorrectionStatus = "approved"
	CorrectionRejected CorrectionStatus = "rejected"
)

// CorrectionRequest disputes one attendance record.
type CorrectionRequest struct {
	ID           string
	UserID       string
	AttendanceID string
	Reason       string
	Status       CorrectionStatus
	ReviewedBy   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Notification is a message to a faculty member about a student.
type Notification struct {
	ID        string
	FacultyID string
	StudentID string
	Message   string
	CreatedAt time.Time
	IsRead    bool
}

// Activity is an audit entry for account events (register, login, ...).
type Activity struct {
	ID        string
	UserID    string
	Type      string
	Details   string
	Timestamp time.Time
}
