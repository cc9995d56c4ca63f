package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Outcome is the result of a successful check-in.
type Outcome int

const (
	Marked Outcome = iota + 1
	AlreadyMarked
)

func (o Outcome) String() string {
	switch o {
	case Marked:
		return "marked"
	case AlreadyMarked:
		return "already_marked"
	default:
		return "unknown"
	}
}

// Message is the user-facing text for o.
func (o Outcome) Message() string {
	if o == AlreadyMarked {
		return "Attendance already marked for this session."
	}
	return "Attendance marked successfully!"
}

// Recorder turns a scanned session code into a stored attendance record.
type Recorder struct {
	sessions  SessionStore
	attendees AttendeeStore
	directory *StudentDirectory
	now       func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(sessions SessionStore, attendees AttendeeStore, directory *StudentDirectory) *Recorder {
	return &Recorder{sessions: sessions, attendees: attendees, directory: directory, now: time.Now}
}

// Record checks ref into the session identified by sessionToken. Repeated
// calls for the same student and session succeed with AlreadyMarked and
// never store a second record.
func (r *Recorder) Record(ctx context.Context, ref StudentRef, sessionToken string) (Outcome, Record, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return 0, Record{}, stateErr("invalid or expired session code")
	}
	sess, err := r.sessions.Session(ctx, sessionToken)
	if err != nil {
		return 0, Record{}, storageErr("load session", err)
	}
	if sess == nil || !sess.Active() {
		return 0, Record{}, stateErr("invalid or expired session code")
	}

	st, err := r.directory.Resolve(ctx, sess.AdminID, ref)
	if err != nil {
		return 0, Record{}, err
	}
	if st == nil {
		return 0, Record{}, notFoundErr(fmt.Sprintf("student %s not found for this administrator", ref.Value))
	}

	rec := Record{SessionID: sess.ID, StudentID: st.ID, Timestamp: r.now().UTC().Truncate(time.Millisecond)}
	created, err := r.attendees.InsertAttendee(ctx, rec)
	if err != nil {
		return 0, Record{}, storageErr("insert attendee", err)
	}
	if !created {
		return AlreadyMarked, rec, nil
	}
	return Marked, rec, nil
}
