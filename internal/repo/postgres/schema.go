package postgres

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT UNIQUE NOT NULL,
	name               TEXT NOT NULL,
	role               TEXT NOT NULL CHECK (role IN ('student', 'faculty')),
	email              TEXT UNIQUE NOT NULL,
	year               TEXT,
	branch             TEXT,
	department         TEXT,
	password_hash      TEXT NOT NULL,
	reset_token        TEXT,
	reset_token_expiry TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS timetable (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(user_id),
	day        TEXT NOT NULL,
	period     TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	block_name TEXT NOT NULL DEFAULT '',
	wifi_name  TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_timetable_slot ON timetable(user_id, day, period);

CREATE TABLE IF NOT EXISTS attendance (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(user_id),
	check_in_time  TIMESTAMPTZ NOT NULL,
	check_out_time TIMESTAMPTZ,
	block_name     TEXT NOT NULL DEFAULT '',
	period         TEXT NOT NULL DEFAULT '',
	wifi_name      TEXT NOT NULL DEFAULT '',
	duration       INTEGER,
	status         TEXT NOT NULL DEFAULT 'absent',
	CHECK (check_out_time IS NULL OR check_out_time >= check_in_time)
);
CREATE INDEX IF NOT EXISTS idx_attendance_user_time ON attendance(user_id, check_in_time DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_open_session ON attendance(user_id) WHERE check_out_time IS NULL;

CREATE TABLE IF NOT EXISTS correction_requests (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(user_id),
	attendance_id TEXT NOT NULL,
	reason        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	reviewed_by   TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_corrections_status ON correction_requests(status, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	faculty_id TEXT NOT NULL REFERENCES users(user_id),
	student_id TEXT NOT NULL REFERENCES users(user_id),
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_read    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(faculty_id) WHERE NOT is_read;

CREATE TABLE IF NOT EXISTS user_activity (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	details       TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates missing tables and indexes. It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
