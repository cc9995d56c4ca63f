package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qrattendance/internal/attendance"
)

// Repository persists attendance documents in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ attendance.Store = (*Repository)(nil)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const studentColumns = `id, admin_id, usn, name, department, dob`

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (attendance.Student, error) {
	var st attendance.Student
	err := row.Scan(&st.ID, &st.AdminID, &st.USN, &st.Name, &st.Department, &st.DOB)
	return st, err
}

// CreateStudent inserts a student; the (admin_id, usn) constraint rejects duplicates.
func (r *Repository) CreateStudent(ctx context.Context, st attendance.Student) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, admin_id, usn, name, department, dob)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (admin_id, usn) DO NOTHING
	`, st.ID, st.AdminID, st.USN, st.Name, st.Department, st.DOB)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: usn %s", attendance.ErrDuplicate, st.USN)
	}
	return nil
}

// StudentByID returns a single student, or nil.
func (r *Repository) StudentByID(ctx context.Context, id string) (*attendance.Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// StudentByUSN returns the tenant's student with usn, or nil.
func (r *Repository) StudentByUSN(ctx context.Context, adminID, usn string) (*attendance.Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE admin_id = $1 AND usn = $2`, adminID, usn)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// StudentsByUSN searches every tenant.
func (r *Repository) StudentsByUSN(ctx context.Context, usn string) ([]attendance.Student, error) {
	return r.listStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE usn = $1`, usn)
}

// ListStudents returns the tenant's roster.
func (r *Repository) ListStudents(ctx context.Context, adminID string) ([]attendance.Student, error) {
	return r.listStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE admin_id = $1`, adminID)
}

func (r *Repository) listStudents(ctx context.Context, query string, args ...any) ([]attendance.Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

const sessionColumns = `id, admin_id, start_time, end_time, state`

func scanSession(row scanner) (attendance.Session, error) {
	var (
		s     attendance.Session
		end   sql.NullTime
		state string
	)
	if err := row.Scan(&s.ID, &s.AdminID, &s.StartTime, &end, &state); err != nil {
		return attendance.Session{}, err
	}
	s.StartTime = s.StartTime.UTC()
	s.State = attendance.SessionState(state)
	if end.Valid {
		t := end.Time.UTC()
		s.EndTime = &t
	}
	return s, nil
}

func listSessions(ctx context.Context, q queryer, query string, args ...any) ([]attendance.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type pgSessionTx struct {
	tx      *sql.Tx
	adminID string
}

func (t *pgSessionTx) OpenSessions(ctx context.Context) ([]attendance.Session, error) {
	return listSessions(ctx, t.tx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE admin_id = $1 AND state = 'open'
		FOR UPDATE
	`, t.adminID)
}

func (t *pgSessionTx) Update(ctx context.Context, s attendance.Session) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET end_time = $3, state = $4
		WHERE id = $1 AND admin_id = $2
	`, s.ID, t.adminID, nullTime(s.EndTime), string(s.State))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("session %s not found for admin %s", s.ID, t.adminID)
	}
	return nil
}

func (t *pgSessionTx) Create(ctx context.Context, s attendance.Session) error {
	if s.AdminID != t.adminID {
		return fmt.Errorf("session %s belongs to another admin", s.ID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (id, admin_id, start_time, end_time, state)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.AdminID, s.StartTime, nullTime(s.EndTime), string(s.State))
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// UpdateAdminSessions runs fn in a transaction holding the admin's advisory lock.
func (r *Repository) UpdateAdminSessions(ctx context.Context, adminID string, fn func(tx attendance.SessionTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, adminID); err != nil {
		return err
	}
	if err := fn(&pgSessionTx{tx: tx, adminID: adminID}); err != nil {
		return err
	}
	return tx.Commit()
}

// OpenSessions returns the admin's open sessions.
func (r *Repository) OpenSessions(ctx context.Context, adminID string) ([]attendance.Session, error) {
	return listSessions(ctx, r.db, `SELECT `+sessionColumns+` FROM sessions WHERE admin_id = $1 AND state = 'open'`, adminID)
}

// Session returns a single session by id, or nil.
func (r *Repository) Session(ctx context.Context, id string) (*attendance.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionsStartedBetween returns the admin's sessions with from <= start_time <= to.
func (r *Repository) SessionsStartedBetween(ctx context.Context, adminID string, from, to time.Time) ([]attendance.Session, error) {
	return listSessions(ctx, r.db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE admin_id = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time ASC
	`, adminID, from, to)
}

// InsertAttendee writes the record unless the (session, student) key exists.
func (r *Repository) InsertAttendee(ctx context.Context, rec attendance.Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendees (session_id, student_id, checked_in_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.SessionID, rec.StudentID, rec.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) listRecords(ctx context.Context, query string, arg string) ([]attendance.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		var rec attendance.Record
		if err := rows.Scan(&rec.SessionID, &rec.StudentID, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Attendees returns the records of one session.
func (r *Repository) Attendees(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	return r.listRecords(ctx, `
		SELECT session_id, student_id, checked_in_at FROM attendees
		WHERE session_id = $1 ORDER BY checked_in_at
	`, sessionID)
}

// AttendanceOf returns a student's records across sessions.
func (r *Repository) AttendanceOf(ctx context.Context, studentID string) ([]attendance.Record, error) {
	return r.listRecords(ctx, `
		SELECT session_id, student_id, checked_in_at FROM attendees
		WHERE student_id = $1 ORDER BY checked_in_at
	`, studentID)
}
