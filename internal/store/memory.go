package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"qrattendance/internal/attendance"
)

// Memory is an in-process document store for development and tests.
// A single mutex makes every operation, including UpdateAdminSessions,
// serializable.
type Memory struct {
	mu        sync.Mutex
	students  map[string]attendance.Student
	usnIndex  map[string]string // adminID + "\x00" + usn -> student id
	sessions  map[string]attendance.Session
	attendees map[string]map[string]attendance.Record // session id -> student id -> record
	byStudent map[string][]attendance.Record
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		students:  make(map[string]attendance.Student),
		usnIndex:  make(map[string]string),
		sessions:  make(map[string]attendance.Session),
		attendees: make(map[string]map[string]attendance.Record),
		byStudent: make(map[string][]attendance.Record),
	}
}

var _ attendance.Store = (*Memory)(nil)

func usnKey(adminID, usn string) string { return adminID + "\x00" + usn }

// CreateStudent implements attendance.StudentStore.
func (m *Memory) CreateStudent(ctx context.Context, st attendance.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usnKey(st.AdminID, st.USN)
	if _, ok := m.usnIndex[key]; ok {
		return fmt.Errorf("%w: usn %s", attendance.ErrDuplicate, st.USN)
	}
	m.usnIndex[key] = st.ID
	m.students[st.ID] = st
	return nil
}

func (m *Memory) StudentByID(ctx context.Context, id string) (*attendance.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *Memory) StudentByUSN(ctx context.Context, adminID, usn string) (*attendance.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usnIndex[usnKey(adminID, usn)]
	if !ok {
		return nil, nil
	}
	st := m.students[id]
	return &st, nil
}

func (m *Memory) StudentsByUSN(ctx context.Context, usn string) ([]attendance.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Student
	for _, st := range m.students {
		if st.USN == usn {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *Memory) ListStudents(ctx context.Context, adminID string) ([]attendance.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Student
	for _, st := range m.students {
		if st.AdminID == adminID {
			out = append(out, st)
		}
	}
	return out, nil
}

type memorySessionTx struct {
	adminID string
	open    []attendance.Session
	writes  []attendance.Session
}

func (tx *memorySessionTx) OpenSessions(ctx context.Context) ([]attendance.Session, error) {
	return append([]attendance.Session(nil), tx.open...), nil
}

func (tx *memorySessionTx) Update(ctx context.Context, s attendance.Session) error {
	if s.AdminID != tx.adminID {
		return fmt.Errorf("session %s belongs to another admin", s.ID)
	}
	tx.writes = append(tx.writes, s)
	return nil
}

func (tx *memorySessionTx) Create(ctx context.Context, s attendance.Session) error {
	return tx.Update(ctx, s)
}

// UpdateAdminSessions implements attendance.SessionStore.
func (m *Memory) UpdateAdminSessions(ctx context.Context, adminID string, fn func(tx attendance.SessionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memorySessionTx{adminID: adminID, open: m.openLocked(adminID)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, s := range tx.writes {
		m.sessions[s.ID] = s
	}
	return nil
}

func (m *Memory) openLocked(adminID string) []attendance.Session {
	var out []attendance.Session
	for _, s := range m.sessions {
		if s.AdminID == adminID && s.Active() {
			out = append(out, s)
		}
	}
	return out
}

func (m *Memory) OpenSessions(ctx context.Context, adminID string) ([]attendance.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(adminID), nil
}

func (m *Memory) Session(ctx context.Context, id string) (*attendance.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) SessionsStartedBetween(ctx context.Context, adminID string, from, to time.Time) ([]attendance.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Session
	for _, s := range m.sessions {
		if s.AdminID == adminID && !s.StartTime.Before(from) && !s.StartTime.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// InsertAttendee implements attendance.AttendeeStore.
func (m *Memory) InsertAttendee(ctx context.Context, rec attendance.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySession, ok := m.attendees[rec.SessionID]
	if !ok {
		bySession = make(map[string]attendance.Record)
		m.attendees[rec.SessionID] = bySession
	}
	if _, exists := bySession[rec.StudentID]; exists {
		return false, nil
	}
	bySession[rec.StudentID] = rec
	m.byStudent[rec.StudentID] = append(m.byStudent[rec.StudentID], rec)
	return true, nil
}

func (m *Memory) Attendees(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(m.attendees[sessionID]))
	for _, rec := range m.attendees[sessionID] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) AttendanceOf(ctx context.Context, studentID string) ([]attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]attendance.Record(nil), m.byStudent[studentID]...), nil
}
