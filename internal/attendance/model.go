package attendance

import (
	"fmt"
	"time"
)

// Student is a member of one admin's roster.
type Student struct {
	ID         string `json:"id"`
	USN        string `json:"usn"`
	Name       string `json:"name"`
	Department string `json:"department"`
	DOB        string `json:"dob"` // YYYY-MM-DD
	AdminID    string `json:"admin_id"`
}

// NewStudent carries the admin-supplied fields for StudentDirectory.Add.
type NewStudent struct {
	USN        string `json:"usn" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Department string `json:"department" validate:"required"`
	DOB        string `json:"dob" validate:"required,datetime=2006-01-02"`
}

// SessionState is the lifecycle state of an attendance window.
type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionClosed SessionState = "closed"
)

// Session is a time-bounded attendance window owned by one admin.
type Session struct {
	ID        string       `json:"id"`
	AdminID   string       `json:"admin_id"`
	StartTime time.Time    `json:"start_time"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	State     SessionState `json:"state"`
}

// Active reports whether the session still accepts check-ins.
func (s Session) Active() bool { return s.State == SessionOpen }

// Close moves an open session to closed. It is the only state transition.
func (s *Session) Close(at time.Time) error {
	if s.State != SessionOpen {
		return stateErr(fmt.Sprintf("session %s is %s", s.ID, s.State))
	}
	at = at.UTC()
	s.State = SessionClosed
	s.EndTime = &at
	return nil
}

// Record is the fact that a student checked in during a session.
type Record struct {
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Attendee is a hydrated Record for reports.
type Attendee struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	StudentUSN  string    `json:"student_usn"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionReport is one session of a daily report with its attendees.
type SessionReport struct {
	SessionID string     `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Attendees []Attendee `json:"attendees"`
}

// SessionAttendance is one entry of a student's attendance history.
type SessionAttendance struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RefKind selects how a StudentRef is looked up.
type RefKind int

const (
	RefByID RefKind = iota + 1
	RefByUSN
)

// StudentRef identifies a student either by store id or by USN.
// Callers pick the kind explicitly; nothing is inferred from the value's shape.
type StudentRef struct {
	Kind  RefKind
	Value string
}

// ByID refers to a student by its store id.
func ByID(id string) StudentRef { return StudentRef{Kind: RefByID, Value: id} }

// ByUSN refers to a student by USN.
func ByUSN(usn string) StudentRef { return StudentRef{Kind: RefByUSN, Value: usn} }

func (r StudentRef) String() string {
	switch r.Kind {
	case RefByID:
		return "id:" + r.Value
	case RefByUSN:
		return "usn:" + r.Value
	default:
		return "invalid:" + r.Value
	}
}
