package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"qrattendance/internal/attendance"
)

// runStoreSuite checks the behaviour every attendance.Store backend shares.
// Ids are random so backends that persist between runs stay isolated.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) attendance.Store) {
	t.Run("students", func(t *testing.T) { testStudents(t, newStore(t)) })
	t.Run("session transactions", func(t *testing.T) { testSessionTx(t, newStore(t)) })
	t.Run("sessions by day", func(t *testing.T) { testSessionsBetween(t, newStore(t)) })
	t.Run("attendees", func(t *testing.T) { testAttendees(t, newStore(t)) })
	t.Run("concurrent attendee insert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("concurrent session opens", func(t *testing.T) { testConcurrentOpen(t, newStore(t)) })
}

func newStudent(adminID, usn string) attendance.Student {
	return attendance.Student{
		ID:         uuid.NewString(),
		USN:        usn,
		Name:       "Student " + usn,
		Department: "CSE",
		DOB:        "2003-01-02",
		AdminID:    adminID,
	}
}

func openSession(t *testing.T, s attendance.Store, adminID string, start time.Time) attendance.Session {
	t.Helper()
	sess, err := tryOpenSession(s, adminID, start)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess
}

// tryOpenSession closes adminID's open sessions at start and opens a new one.
func tryOpenSession(s attendance.Store, adminID string, start time.Time) (attendance.Session, error) {
	sess := attendance.Session{ID: uuid.NewString(), AdminID: adminID, StartTime: start.UTC(), State: attendance.SessionOpen}
	err := s.UpdateAdminSessions(context.Background(), adminID, func(tx attendance.SessionTx) error {
		open, err := tx.OpenSessions(context.Background())
		if err != nil {
			return err
		}
		for _, o := range open {
			if err := o.Close(start); err != nil {
				return err
			}
			if err := tx.Update(context.Background(), o); err != nil {
				return err
			}
		}
		return tx.Create(context.Background(), sess)
	})
	return sess, err
}

func testStudents(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	adminA, adminB := uuid.NewString(), uuid.NewString()
	usn := "USN-" + uuid.NewString()[:8]

	a := newStudent(adminA, usn)
	if err := s.CreateStudent(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := newStudent(adminA, usn)
	if err := s.CreateStudent(ctx, dup); !errors.Is(err, attendance.ErrDuplicate) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicate", err)
	}
	b := newStudent(adminB, usn)
	if err := s.CreateStudent(ctx, b); err != nil {
		t.Fatalf("same usn, other admin: %v", err)
	}

	got, err := s.StudentByUSN(ctx, adminA, usn)
	if err != nil || got == nil || got.ID != a.ID {
		t.Fatalf("StudentByUSN = %+v, %v", got, err)
	}
	if got, err := s.StudentByID(ctx, b.ID); err != nil || got == nil || *got != b {
		t.Fatalf("StudentByID = %+v, %v", got, err)
	}
	if got, err := s.StudentByID(ctx, uuid.NewString()); err != nil || got != nil {
		t.Fatalf("missing StudentByID = %+v, %v", got, err)
	}
	if got, err := s.StudentByUSN(ctx, uuid.NewString(), usn); err != nil || got != nil {
		t.Fatalf("StudentByUSN of another tenant = %+v, %v", got, err)
	}

	all, err := s.StudentsByUSN(ctx, usn)
	if err != nil || len(all) != 2 {
		t.Fatalf("StudentsByUSN = %+v, %v", all, err)
	}
	roster, err := s.ListStudents(ctx, adminA)
	if err != nil || len(roster) != 1 || roster[0].ID != a.ID {
		t.Fatalf("ListStudents = %+v, %v", roster, err)
	}
}

func testSessionTx(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	admin := uuid.NewString()
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	first := openSession(t, s, admin, start)
	second := openSession(t, s, admin, start.Add(time.Hour))

	open, err := s.OpenSessions(ctx, admin)
	if err != nil || len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("OpenSessions = %+v, %v", open, err)
	}
	old, err := s.Session(ctx, first.ID)
	if err != nil || old == nil {
		t.Fatalf("Session = %+v, %v", old, err)
	}
	if old.State != attendance.SessionClosed || old.EndTime == nil || !old.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("first session after second start = %+v", old)
	}

	boom := errors.New("boom")
	err = s.UpdateAdminSessions(ctx, admin, func(tx attendance.SessionTx) error {
		open, err := tx.OpenSessions(ctx)
		if err != nil {
			return err
		}
		if err := open[0].Close(start.Add(2 * time.Hour)); err != nil {
			return err
		}
		if err := tx.Update(ctx, open[0]); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateAdminSessions err = %v, want boom", err)
	}
	if open, _ := s.OpenSessions(ctx, admin); len(open) != 1 {
		t.Fatalf("failed transaction leaked writes: %+v", open)
	}
	if got, err := s.Session(ctx, uuid.NewString()); err != nil || got != nil {
		t.Fatalf("missing Session = %+v, %v", got, err)
	}
}

func testSessionsBetween(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	admin := uuid.NewString()
	from := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 5, 23, 59, 59, int(999*time.Millisecond), time.UTC)

	openSession(t, s, admin, from.Add(-time.Millisecond))
	atStart := openSession(t, s, admin, from)
	noon := openSession(t, s, admin, from.Add(12*time.Hour))
	atEnd := openSession(t, s, admin, to)
	openSession(t, s, admin, to.Add(time.Millisecond))

	got, err := s.SessionsStartedBetween(ctx, admin, from, to)
	if err != nil {
		t.Fatalf("SessionsStartedBetween: %v", err)
	}
	want := []string{atStart.ID, noon.ID, atEnd.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d sessions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("session %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
	if other, _ := s.SessionsStartedBetween(ctx, uuid.NewString(), from, to); len(other) != 0 {
		t.Fatalf("other tenant sees %d sessions", len(other))
	}
}

func testAttendees(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	admin := uuid.NewString()
	st := newStudent(admin, "USN-"+uuid.NewString()[:8])
	if err := s.CreateStudent(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}
	start := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	s1 := openSession(t, s, admin, start)
	s2 := openSession(t, s, admin, start.Add(time.Hour))

	first := attendance.Record{SessionID: s1.ID, StudentID: st.ID, Timestamp: start.Add(time.Minute)}
	created, err := s.InsertAttendee(ctx, first)
	if err != nil || !created {
		t.Fatalf("first insert = %v, %v", created, err)
	}
	again := first
	again.Timestamp = start.Add(2 * time.Minute)
	created, err = s.InsertAttendee(ctx, again)
	if err != nil || created {
		t.Fatalf("second insert = %v, %v", created, err)
	}
	if _, err := s.InsertAttendee(ctx, attendance.Record{SessionID: s2.ID, StudentID: st.ID, Timestamp: start.Add(61 * time.Minute)}); err != nil {
		t.Fatalf("insert s2: %v", err)
	}

	recs, err := s.Attendees(ctx, s1.ID)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Attendees = %+v, %v", recs, err)
	}
	if !recs[0].Timestamp.Equal(first.Timestamp) {
		t.Fatalf("kept timestamp %s, want the first %s", recs[0].Timestamp, first.Timestamp)
	}
	history, err := s.AttendanceOf(ctx, st.ID)
	if err != nil || len(history) != 2 {
		t.Fatalf("AttendanceOf = %+v, %v", history, err)
	}
	if none, err := s.AttendanceOf(ctx, uuid.NewString()); err != nil || len(none) != 0 {
		t.Fatalf("AttendanceOf unknown = %+v, %v", none, err)
	}
}

func testConcurrentInsert(t *testing.T, s attendance.Store) {
	ctx := context.Background()
	admin := uuid.NewString()
	st := newStudent(admin, "USN-"+uuid.NewString()[:8])
	if err := s.CreateStudent(ctx, st); err != nil {
		t.Fatalf("create: %v", err)
	}
	sess := openSession(t, s, admin, time.Now())

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	startCh := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-startCh
			created, err := s.InsertAttendee(ctx, attendance.Record{
				SessionID: sess.ID,
				StudentID: st.ID,
				Timestamp: time.Now().UTC().Truncate(time.Millisecond).Add(time.Duration(i) * time.Millisecond),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if created {
				winners++
			}
		}(i)
	}
	close(startCh)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("insert errors: %v", errs)
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	if recs, _ := s.Attendees(ctx, sess.ID); len(recs) != 1 {
		t.Fatalf("stored %d records, want 1", len(recs))
	}
}

func testConcurrentOpen(t *testing.T, s attendance.Store) {
	admin := uuid.NewString()
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	startCh := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-startCh
			if _, err := tryOpenSession(s, admin, time.Now()); err != nil {
				errs <- err
			}
		}()
	}
	close(startCh)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("open session: %v", err)
	}

	open, err := s.OpenSessions(context.Background(), admin)
	if err != nil {
		t.Fatalf("OpenSessions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open sessions = %d, want 1", len(open))
	}
}
