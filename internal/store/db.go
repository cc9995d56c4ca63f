package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies the schema.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		admin_id    TEXT NOT NULL,
		usn         TEXT NOT NULL,
		name        TEXT NOT NULL,
		department  TEXT NOT NULL,
		dob         TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (admin_id, usn)
	);
	CREATE INDEX IF NOT EXISTS idx_students_usn ON students(usn);

	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		admin_id    TEXT NOT NULL,
		start_time  TIMESTAMPTZ NOT NULL,
		end_time    TIMESTAMPTZ,
		state       TEXT NOT NULL CHECK (state IN ('open', 'closed'))
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_open ON sessions(admin_id) WHERE state = 'open';
	CREATE INDEX IF NOT EXISTS idx_sessions_admin_start ON sessions(admin_id, start_time);

	CREATE TABLE IF NOT EXISTS attendees (
		session_id     TEXT NOT NULL REFERENCES sessions(id),
		student_id     TEXT NOT NULL REFERENCES students(id),
		checked_in_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_attendees_student ON attendees(student_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
