// Package memory is an in-process implementation of repo.Store. Units of work
// are serialized and rolled back by restoring a snapshot taken when they start.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// ErrDuplicate is returned when a unique key would be violated.
var ErrDuplicate = errors.New("duplicate key")

type userRow struct {
	seq  int
	user model.User
}

type state struct {
	seq           int
	users         map[string]userRow // by UserID
	timetable     map[string]model.TimetableEntry
	attendance    map[string]model.AttendanceRecord
	corrections   map[string]model.CorrectionRequest
	notifications map[string]model.Notification
	activity      []model.Activity
}

func newState() *state {
	return &state{
		users:         map[string]userRow{},
		timetable:     map[string]model.TimetableEntry{},
		attendance:    map[string]model.AttendanceRecord{},
		corrections:   map[string]model.CorrectionRequest{},
		notifications: map[string]model.Notification{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.timetable {
		c.timetable[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	for k, v := range s.corrections {
		c.corrections[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	c.activity = append([]model.Activity(nil), s.activity...)
	return c
}

// Store keeps every entity in memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn exclusively; on error the state before fn is restored.
func (s *Store) WithTx(ctx context.Context, fn func(repo.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(s.repos()); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// View runs fn exclusively and discards anything it writes.
func (s *Store) View(ctx context.Context, fn func(repo.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	defer func() { s.st = snapshot }()
	return fn(s.repos())
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Activities returns a copy of the audit log.
func (s *Store) Activities() []model.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Activity(nil), s.st.activity...)
}

func (s *Store) repos() repo.Repos {
	return repo.Repos{
		Users:         users{s},
		Timetable:     timetable{s},
		Attendance:    attendance{s},
		Corrections:   corrections{s},
		Notifications: notifications{s},
		Activity:      activity{s},
	}
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// -------- Users --------

type users struct{ s *Store }

func (r users) Create(_ context.Context, u *model.User) error {
	st := r.s.st
	if _, ok := st.users[u.UserID]; ok {
		return ErrDuplicate
	}
	for _, row := range st.users {
		if strings.EqualFold(row.user.Email, u.Email) {
			return ErrDuplicate
		}
	}
	u.ID = newID(u.ID)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	st.seq++
	st.users[u.UserID] = userRow{seq: st.seq, user: *u}
	return nil
}

func (r users) Update(_ context.Context, u *model.User) error {
	st := r.s.st
	row, ok := st.users[u.UserID]
	if !ok {
		return nil
	}
	for id, other := range st.users {
		if id != u.UserID && strings.EqualFold(other.user.Email, u.Email) {
			return ErrDuplicate
		}
	}
	row.user = *u
	st.users[u.UserID] = row
	return nil
}

func (r users) GetByUserID(_ context.Context, userID string) (*model.User, error) {
	row, ok := r.s.st.users[userID]
	if !ok {
		return nil, nil
	}
	u := row.user
	return &u, nil
}

func (r users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, row := range r.s.st.users {
		if strings.EqualFold(row.user.Email, email) {
			u := row.user
			return &u, nil
		}
	}
	return nil, nil
}

func (r users) GetForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return r.GetByUserID(ctx, userID)
}

func (r users) FirstFacultyInDepartment(_ context.Context, dept string) (*model.User, error) {
	var best *userRow
	for _, row := range r.s.st.users {
		f, ok := row.user.Profile.(model.Faculty)
		if !ok || f.Department != dept {
			continue
		}
		if best == nil || row.seq < best.seq {
			row := row
			best = &row
		}
	}
	if best == nil {
		return nil, nil
	}
	u := best.user
	return &u, nil
}

func (r users) students(keep func(model.Student) bool) []model.User {
	var out []model.User
	for _, row := range r.s.st.users {
		s, ok := row.user.Profile.(model.Student)
		if !ok || !keep(s) {
			continue
		}
		out = append(out, row.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r users) ListStudents(_ context.Context) ([]model.User, error) {
	return r.students(func(model.Student) bool { return true }), nil
}

func (r users) ListStudentsInBranch(_ context.Context, branch string) ([]model.User, error) {
	return r.students(func(s model.Student) bool { return s.Branch == branch }), nil
}

// -------- Timetable --------

type timetable struct{ s *Store }

func (r timetable) Upsert(_ context.Context, e *model.TimetableEntry) error {
	st := r.s.st
	for id, existing := range st.timetable {
		if existing.UserID == e.UserID && existing.Day == e.Day && existing.Period == e.Period {
			e.ID = id
			st.timetable[id] = *e
			return nil
		}
	}
	e.ID = newID(e.ID)
	st.timetable[e.ID] = *e
	return nil
}

func (r timetable) ListByUser(_ context.Context, userID string) ([]model.TimetableEntry, error) {
	var out []model.TimetableEntry
	for _, e := range r.s.st.timetable {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dayRank(out[i].Day), dayRank(out[j].Day)
		if di != dj {
			return di < dj
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r timetable) ListByUserDay(_ context.Context, userID, day string) ([]model.TimetableEntry, error) {
	var out []model.TimetableEntry
	for _, e := range r.s.st.timetable {
		if e.UserID == userID && e.Day == day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r timetable) ListByDay(_ context.Context, day string) ([]model.TimetableEntry, error) {
	var out []model.TimetableEntry
	for _, e := range r.s.st.timetable {
		if e.Day == day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// Unknown day names sort last, like the CASE expression in the SQL store.
func dayRank(day string) int {
	if i := model.WeekdayIndex(day); i >= 0 {
		return i
	}
	return len(model.Weekdays)
}

// -------- Attendance --------

type attendance struct{ s *Store }

func cloneRecord(r model.AttendanceRecord) model.AttendanceRecord {
	if r.CheckOut != nil {
		t := *r.CheckOut
		r.CheckOut = &t
	}
	if r.Duration != nil {
		d := *r.Duration
		r.Duration = &d
	}
	return r
}

func (r attendance) Insert(_ context.Context, rec *model.AttendanceRecord) error {
	rec.ID = newID(rec.ID)
	r.s.st.attendance[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r attendance) Update(_ context.Context, rec *model.AttendanceRecord) error {
	if _, ok := r.s.st.attendance[rec.ID]; !ok {
		return nil
	}
	r.s.st.attendance[rec.ID] = cloneRecord(*rec)
	return nil
}

func (r attendance) Get(_ context.Context, id string) (*model.AttendanceRecord, error) {
	rec, ok := r.s.st.attendance[id]
	if !ok {
		return nil, nil
	}
	c := cloneRecord(rec)
	return &c, nil
}

func (r attendance) LatestOpen(_ context.Context, userID string) (*model.AttendanceRecord, error) {
	var best *model.AttendanceRecord
	for _, rec := range r.s.st.attendance {
		if rec.UserID != userID || !rec.Open() {
			continue
		}
		if best == nil || rec.CheckIn.After(best.CheckIn) || (rec.CheckIn.Equal(best.CheckIn) && rec.ID > best.ID) {
			c := cloneRecord(rec)
			best = &c
		}
	}
	return best, nil
}

func (r attendance) matching(f repo.AttendanceFilter) []model.AttendanceRecord {
	q := strings.ToLower(f.Query)
	var out []model.AttendanceRecord
	for _, rec := range r.s.st.attendance {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if f.From != nil && rec.CheckIn.Before(*f.From) {
			continue
		}
		if f.To != nil && rec.CheckIn.After(*f.To) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(rec.Period), q) &&
			!strings.Contains(strings.ToLower(rec.BlockName), q) &&
			!strings.Contains(strings.ToLower(string(rec.Status)), q) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].CheckIn.After(out[j].CheckIn)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r attendance) List(_ context.Context, f repo.AttendanceFilter) ([]model.AttendanceRecord, error) {
	out := r.matching(f)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r attendance) Count(_ context.Context, f repo.AttendanceFilter) (int, error) {
	return len(r.matching(f)), nil
}

// -------- Corrections --------

type corrections struct{ s *Store }

func (r corrections) Insert(_ context.Context, c *model.CorrectionRequest) error {
	c.ID = newID(c.ID)
	r.s.st.corrections[c.ID] = *c
	return nil
}

func (r corrections) Update(_ context.Context, c *model.CorrectionRequest) error {
	if _, ok := r.s.st.corrections[c.ID]; ok {
		r.s.st.corrections[c.ID] = *c
	}
	return nil
}

func (r corrections) Get(_ context.Context, id string) (*model.CorrectionRequest, error) {
	c, ok := r.s.st.corrections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r corrections) GetForUpdate(ctx context.Context, id string) (*model.CorrectionRequest, error) {
	return r.Get(ctx, id)
}

func (r corrections) ListByStatus(_ context.Context, status model.CorrectionStatus) ([]model.CorrectionRequest, error) {
	var out []model.CorrectionRequest
	for _, c := range r.s.st.corrections {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -------- Notifications --------

type notifications struct{ s *Store }

func (r notifications) Insert(_ context.Context, n *model.Notification) error {
	n.ID = newID(n.ID)
	r.s.st.notifications[n.ID] = *n
	return nil
}

func (r notifications) Get(_ context.Context, id string) (*model.Notification, error) {
	n, ok := r.s.st.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r notifications) MarkRead(_ context.Context, id string) error {
	if n, ok := r.s.st.notifications[id]; ok {
		n.IsRead = true
		r.s.st.notifications[id] = n
	}
	return nil
}

func (r notifications) ListUnread(_ context.Context, facultyID string) ([]model.Notification, error) {
	var out []model.Notification
	for _, n := range r.s.st.notifications {
		if n.FacultyID == facultyID && !n.IsRead {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// -------- Activity --------

type activity struct{ s *Store }

func (r activity) Insert(_ context.Context, a *model.Activity) error {
	a.ID = newID(a.ID)
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	r.s.st.activity = append(r.s.st.activity, *a)
	return nil
}
