package attendance

import (
	"context"
	"time"
)

// StudentStore persists the students collection.
// Lookups return (nil, nil) when nothing matches.
type StudentStore interface {
	// CreateStudent stores st. It fails with ErrDuplicate when st.USN is
	// already taken within st.AdminID; the check and the write are atomic.
	CreateStudent(ctx context.Context, st Student) error
	StudentByID(ctx context.Context, id string) (*Student, error)
	StudentByUSN(ctx context.Context, adminID, usn string) (*Student, error)
	// StudentsByUSN searches every tenant.
	StudentsByUSN(ctx context.Context, usn string) ([]Student, error)
	ListStudents(ctx context.Context, adminID string) ([]Student, error)
}

// SessionTx is the set of one admin's sessions, held under that admin's
// write serialization point for the duration of SessionStore.UpdateAdminSessions.
type SessionTx interface {
	OpenSessions(ctx context.Context) ([]Session, error)
	Update(ctx context.Context, s Session) error
	Create(ctx context.Context, s Session) error
}

// SessionStore persists the sessions collection.
type SessionStore interface {
	// UpdateAdminSessions runs fn with exclusive write access to adminID's
	// sessions. Writes made through tx are applied only if fn returns nil.
	// fn may run more than once when the backend retries an optimistic
	// transaction, so it must not have side effects outside tx.
	UpdateAdminSessions(ctx context.Context, adminID string, fn func(tx SessionTx) error) error
	OpenSessions(ctx context.Context, adminID string) ([]Session, error)
	Session(ctx context.Context, id string) (*Session, error)
	// SessionsStartedBetween returns adminID's sessions with from <= StartTime <= to,
	// earliest first.
	SessionsStartedBetween(ctx context.Context, adminID string, from, to time.Time) ([]Session, error)
}

// AttendeeStore persists the attendees sub-collection of each session.
type AttendeeStore interface {
	// InsertAttendee creates rec keyed by (SessionID, StudentID) unless one
	// already exists. created is false when an earlier record was kept.
	InsertAttendee(ctx context.Context, rec Record) (created bool, err error)
	Attendees(ctx context.Context, sessionID string) ([]Record, error)
	// AttendanceOf reads the per-student index across all sessions.
	AttendanceOf(ctx context.Context, studentID string) ([]Record, error)
}

// Store is a complete document store backend.
type Store interface {
	StudentStore
	SessionStore
	AttendeeStore
}
