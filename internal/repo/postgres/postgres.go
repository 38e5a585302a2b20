// Package postgres implements repo.Store on database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists every entity in Postgres.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTx runs fn in a read-write transaction, rolling back if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(repo.Repos) error) error {
	return s.run(ctx, nil, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(repo.Repos) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("db not configured")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(repo.Repos) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(reposFor(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func reposFor(q querier) repo.Repos {
	return repo.Repos{
		Users:         userRepo{q},
		Timetable:     timetableRepo{q},
		Attendance:    attendanceRepo{q},
		Corrections:   correctionRepo{q},
		Notifications: notificationRepo{q},
		Activity:      activityRepo{q},
	}
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// -------- Users --------

type userRepo struct{ q querier }

const userColumns = `id, user_id, name, role, email, year, branch, department, password_hash, reset_token, reset_token_expiry, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u                        model.User
		role                     string
		year, branch, department sql.NullString
		resetToken               sql.NullString
		resetExpiry              sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.Name, &role, &u.Email, &year, &branch, &department,
		&u.PasswordHash, &resetToken, &resetExpiry, &u.CreatedAt); err != nil {
		return nil, err
	}
	switch model.Role(role) {
	case model.RoleStudent:
		u.Profile = model.Student{Year: year.String, Branch: branch.String}
	case model.RoleFaculty:
		u.Profile = model.Faculty{Department: department.String}
	default:
		return nil, fmt.Errorf("user %s: unknown role %q", u.UserID, role)
	}
	if resetToken.Valid {
		u.ResetToken = &resetToken.String
	}
	if resetExpiry.Valid {
		u.ResetTokenExpiry = &resetExpiry.Time
	}
	return &u, nil
}

func profileColumns(p model.Profile) (role string, year, branch, department sql.NullString) {
	switch v := p.(type) {
	case model.Student:
		return string(model.RoleStudent), nullString(v.Year), nullString(v.Branch), sql.NullString{}
	case model.Faculty:
		return string(model.RoleFaculty), sql.NullString{}, sql.NullString{}, nullString(v.Department)
	default:
		return "", sql.NullString{}, sql.NullString{}, sql.NullString{}
	}
}

func (r userRepo) Create(ctx context.Context, u *model.User) error {
	u.ID = newID(u.ID)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	role, year, branch, department := profileColumns(u.Profile)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, u.ID, u.UserID, u.Name, role, u.Email, year, branch, department, u.PasswordHash, u.ResetToken, u.ResetTokenExpiry, u.CreatedAt)
	return err
}

// Update never touches role or user_id.
func (r userRepo) Update(ctx context.Context, u *model.User) error {
	_, year, branch, department := profileColumns(u.Profile)
	_, err := r.q.ExecContext(ctx, `
		UPDATE users
		SET name = $2, email = $3, year = $4, branch = $5, department = $6,
			password_hash = $7, reset_token = $8, reset_token_expiry = $9
		WHERE user_id = $1
	`, u.UserID, u.Name, u.Email, year, branch, department, u.PasswordHash, u.ResetToken, u.ResetTokenExpiry)
	return err
}

func (r userRepo) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r userRepo) GetByUserID(ctx context.Context, userID string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r userRepo) GetForUpdate(ctx context.Context, userID string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r userRepo) FirstFacultyInDepartment(ctx context.Context, dept string) (*model.User, error) {
	return r.getOne(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = 'faculty' AND department = $1
		ORDER BY created_at, id
		LIMIT 1
	`, dept)
}

func (r userRepo) ListStudents(ctx context.Context) ([]model.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'student' ORDER BY user_id`)
}

func (r userRepo) ListStudentsInBranch(ctx context.Context, branch string) ([]model.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'student' AND branch = $1 ORDER BY user_id`, branch)
}

func (r userRepo) list(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// -------- Timetable --------

type timetableRepo struct{ q querier }

const timetableColumns = `id, user_id, day, period, start_time, end_time, block_name, wifi_name`

const dayOrder = `CASE day
	WHEN 'monday' THEN 1 WHEN 'tuesday' THEN 2 WHEN 'wednesday' THEN 3 WHEN 'thursday' THEN 4
	WHEN 'friday' THEN 5 WHEN 'saturday' THEN 6 WHEN 'sunday' THEN 7 ELSE 8 END`

func (r timetableRepo) Upsert(ctx context.Context, e *model.TimetableEntry) error {
	e.ID = newID(e.ID)
	return r.q.QueryRowContext(ctx, `
		INSERT INTO timetable (`+timetableColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, day, period) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			block_name = EXCLUDED.block_name,
			wifi_name = EXCLUDED.wifi_name
		RETURNING id
	`, e.ID, e.UserID, e.Day, e.Period, e.StartTime, e.EndTime, e.BlockName, e.WifiName).Scan(&e.ID)
}

func (r timetableRepo) list(ctx context.Context, query string, args ...any) ([]model.TimetableEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TimetableEntry
	for rows.Next() {
		var e model.TimetableEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Day, &e.Period, &e.StartTime, &e.EndTime, &e.BlockName, &e.WifiName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r timetableRepo) ListByUser(ctx context.Context, userID string) ([]model.TimetableEntry, error) {
	return r.list(ctx, `SELECT `+timetableColumns+` FROM timetable WHERE user_id = $1 ORDER BY `+dayOrder+`, start_time`, userID)
}

func (r timetableRepo) ListByUserDay(ctx context.Context, userID, day string) ([]model.TimetableEntry, error) {
	return r.list(ctx, `SELECT `+timetableColumns+` FROM timetable WHERE user_id = $1 AND day = $2 ORDER BY start_time`, userID, day)
}

func (r timetableRepo) ListByDay(ctx context.Context, day string) ([]model.TimetableEntry, error) {
	return r.list(ctx, `SELECT `+timetableColumns+` FROM timetable WHERE day = $1 ORDER BY user_id, start_time`, day)
}

// -------- Attendance --------

type attendanceRepo struct{ q querier }

const attendanceColumns = `id, user_id, check_in_time, check_out_time, block_name, period, wifi_name, duration, status`

func scanAttendance(row interface{ Scan(...any) error }) (*model.AttendanceRecord, error) {
	var (
		rec      model.AttendanceRecord
		checkOut sql.NullTime
		duration sql.NullInt64
		status   string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.CheckIn, &checkOut, &rec.BlockName, &rec.Period, &rec.WifiName, &duration, &status); err != nil {
		return nil, err
	}
	if checkOut.Valid {
		rec.CheckOut = &checkOut.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.Duration = &d
	}
	rec.Status = model.AttendanceStatus(status)
	return &rec, nil
}

func (r attendanceRepo) Insert(ctx context.Context, rec *model.AttendanceRecord) error {
	rec.ID = newID(rec.ID)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.UserID, rec.CheckIn, rec.CheckOut, rec.BlockName, rec.Period, rec.WifiName, rec.Duration, string(rec.Status))
	return err
}

func (r attendanceRepo) Update(ctx context.Context, rec *model.AttendanceRecord) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE attendance
		SET check_out_time = $2, duration = $3, status = $4
		WHERE id = $1
	`, rec.ID, rec.CheckOut, rec.Duration, string(rec.Status))
	return err
}

func (r attendanceRepo) Get(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	rec, err := scanAttendance(r.q.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r attendanceRepo) LatestOpen(ctx context.Context, userID string) (*model.AttendanceRecord, error) {
	rec, err := scanAttendance(r.q.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE user_id = $1 AND check_out_time IS NULL
		ORDER BY check_in_time DESC, id DESC
		LIMIT 1
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// where builds the WHERE clause for f and returns it with its arguments.
func where(f repo.AttendanceFilter) (string, []any) {
	args := []any{}
	clauses := []string{}
	next := func() string { return "$" + strconv.Itoa(len(args)) }
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, "user_id = "+next())
	}
	if f.From != nil {
		args = append(args, *f.From)
		clauses = append(clauses, "check_in_time >= "+next())
	}
	if f.To != nil {
		args = append(args, *f.To)
		clauses = append(clauses, "check_in_time <= "+next())
	}
	if f.Query != "" {
		args = append(args, "%"+escapeLike(f.Query)+"%")
		p := next()
		clauses = append(clauses, "(period ILIKE "+p+" OR block_name ILIKE "+p+" OR status ILIKE "+p+")")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r attendanceRepo) List(ctx context.Context, f repo.AttendanceFilter) ([]model.AttendanceRecord, error) {
	clause, args := where(f)
	query := `SELECT ` + attendanceColumns + ` FROM attendance` + clause + ` ORDER BY check_in_time DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r attendanceRepo) Count(ctx context.Context, f repo.AttendanceFilter) (int, error) {
	clause, args := where(f)
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`+clause, args...).Scan(&n)
	return n, err
}

// -------- Corrections --------

type correctionRepo struct{ q querier }

const correctionColumns = `id, user_id, attendance_id, reason, status, reviewed_by, created_at, updated_at`

func scanCorrection(row interface{ Scan(...any) error }) (*model.CorrectionRequest, error) {
	var (
		c        model.CorrectionRequest
		status   string
		reviewer sql.NullString
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.AttendanceID, &c.Reason, &status, &reviewer, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = model.CorrectionStatus(status)
	if reviewer.Valid {
		c.ReviewedBy = &reviewer.String
	}
	return &c, nil
}

func (r correctionRepo) Insert(ctx context.Context, c *model.CorrectionRequest) error {
	c.ID = newID(c.ID)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO correction_requests (`+correctionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.UserID, c.AttendanceID, c.Reason, string(c.Status), c.ReviewedBy, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r correctionRepo) Update(ctx context.Context, c *model.CorrectionRequest) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE correction_requests SET status = $2, reviewed_by = $3, updated_at = $4 WHERE id = $1
	`, c.ID, string(c.Status), c.ReviewedBy, c.UpdatedAt)
	return err
}

func (r correctionRepo) Get(ctx context.Context, id string) (*model.CorrectionRequest, error) {
	return r.getOne(ctx, `SELECT `+correctionColumns+` FROM correction_requests WHERE id = $1`, id)
}

func (r correctionRepo) GetForUpdate(ctx context.Context, id string) (*model.CorrectionRequest, error) {
	return r.getOne(ctx, `SELECT `+correctionColumns+` FROM correction_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r correctionRepo) getOne(ctx context.Context, query string, args ...any) (*model.CorrectionRequest, error) {
	c, err := scanCorrection(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r correctionRepo) ListByStatus(ctx context.Context, status model.CorrectionStatus) ([]model.CorrectionRequest, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+correctionColumns+` FROM correction_requests WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CorrectionRequest
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// -------- Notifications --------

type notificationRepo struct{ q querier }

const notificationColumns = `id, faculty_id, student_id, message, created_at, is_read`

func (r notificationRepo) Insert(ctx context.Context, n *model.Notification) error {
	n.ID = newID(n.ID)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`) VALUES ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.FacultyID, n.StudentID, n.Message, n.CreatedAt, n.IsRead)
	return err
}

func (r notificationRepo) Get(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	err := r.q.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id).
		Scan(&n.ID, &n.FacultyID, &n.StudentID, &n.Message, &n.CreatedAt, &n.IsRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r notificationRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	return err
}

func (r notificationRepo) ListUnread(ctx context.Context, facultyID string) ([]model.Notification, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE faculty_id = $1 AND NOT is_read
		ORDER BY created_at DESC
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.FacultyID, &n.StudentID, &n.Message, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// -------- Activity --------

type activityRepo struct{ q querier }

func (r activityRepo) Insert(ctx context.Context, a *model.Activity) error {
	a.ID = newID(a.ID)
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_activity (id, user_id, activity_type, timestamp, details) VALUES ($1,$2,$3,$4,$5)
	`, a.ID, a.UserID, a.Type, a.Timestamp, a.Details)
	return err
}
