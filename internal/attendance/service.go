package attendance

import (
	"context"
	"errors"
	"time"

	"qrattendance/internal/metrics"
)

// Result is the structured reply of operations whose domain failures are
// reported to the caller rather than raised.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	StudentID string `json:"student_id,omitempty"`
	// Kind classifies a failed result for transports; it is empty on success.
	Kind Kind `json:"-"`
}

func failure(err error) Result { return Result{Success: false, Message: Message(err), Kind: KindOf(err)} }

// Service is the call boundary of the attendance core. Validation,
// duplicate, not-found and state failures come back as Result values or
// classified errors; only storage and integrity faults are meant to reach
// the transport as server errors.
type Service struct {
	Sessions *SessionManager
	Students *StudentDirectory
	Recorder *Recorder
	Reports  *Reports

	events  Publisher
	timeout time.Duration
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Timeout bounds every store round trip of one operation.
	Timeout time.Duration
	// Location is the time zone of daily report calendar days.
	Location *time.Location
	Events   Publisher
	Now      func() time.Time
}

// NewService wires the components over one store.
func NewService(store Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dir := NewStudentDirectory(store)
	sessions := NewSessionManager(store)
	sessions.now = opts.Now
	recorder := NewRecorder(store, store, dir)
	recorder.now = opts.Now
	return &Service{
		Sessions: sessions,
		Students: dir,
		Recorder: recorder,
		Reports:  NewReports(store, dir, opts.Location),
		events:   opts.Events,
		timeout:  opts.Timeout,
	}
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// StartSession opens a new attendance window for adminID, closing the
// previous one.
func (s *Service) StartSession(ctx context.Context, adminID string) (Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	opened, closed, err := s.Sessions.Start(ctx, adminID)
	if err != nil {
		return Session{}, err
	}
	for _, c := range closed {
		metrics.SessionTransitions.WithLabelValues("closed").Inc()
		publish(ctx, s.events, EventSessionClosed, Event{AdminID: adminID, SessionID: c.ID, At: *c.EndTime})
	}
	metrics.SessionTransitions.WithLabelValues("opened").Inc()
	publish(ctx, s.events, EventSessionOpened, Event{AdminID: adminID, SessionID: opened.ID, At: opened.StartTime})
	return opened, nil
}

// EndSession closes adminID's open session. It returns nil when none is open.
func (s *Service) EndSession(ctx context.Context, adminID string) (*Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ended, err := s.Sessions.End(ctx, adminID)
	if err != nil || ended == nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues("closed").Inc()
	publish(ctx, s.events, EventSessionClosed, Event{AdminID: adminID, SessionID: ended.ID, At: *ended.EndTime})
	return ended, nil
}

// ActiveSession returns adminID's open session, or nil.
func (s *Service) ActiveSession(ctx context.Context, adminID string) (*Session, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.Sessions.Active(ctx, adminID)
}

// AddStudent registers a student under adminID.
func (s *Service) AddStudent(ctx context.Context, adminID string, in NewStudent) (Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	st, err := s.Students.Add(ctx, adminID, in)
	if err != nil {
		if IsFault(err) {
			return Result{}, err
		}
		return failure(err), nil
	}
	metrics.StudentsAdded.Inc()
	return Result{Success: true, Message: "Student added.", StudentID: st.ID}, nil
}

// LogAttendance checks the referenced student into the session behind sessionToken.
func (s *Service) LogAttendance(ctx context.Context, ref StudentRef, sessionToken string) (Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	outcome, rec, err := s.Recorder.Record(ctx, ref, sessionToken)
	if err != nil {
		if IsFault(err) {
			return Result{}, err
		}
		metrics.Marks.WithLabelValues("rejected").Inc()
		return failure(err), nil
	}
	metrics.Marks.WithLabelValues(outcome.String()).Inc()
	if outcome == Marked {
		publish(ctx, s.events, EventAttendanceMarked, Event{SessionID: rec.SessionID, StudentID: rec.StudentID, At: rec.Timestamp})
	}
	return Result{Success: true, Message: outcome.Message(), StudentID: rec.StudentID}, nil
}

// AttendanceByDate returns the daily report of adminID for date.
func (s *Service) AttendanceByDate(ctx context.Context, adminID string, date time.Time) ([]SessionReport, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	report, err := s.Reports.DailyReport(ctx, adminID, date)
	if err != nil {
		return nil, err
	}
	metrics.ReportSessions.Observe(float64(len(report)))
	return report, nil
}

// StudentList returns adminID's roster.
func (s *Service) StudentList(ctx context.Context, adminID string) ([]Student, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	students, err := s.Students.List(ctx, adminID)
	if students == nil && err == nil {
		students = []Student{}
	}
	return students, err
}

// Student resolves ref inside adminID's roster; nil when it does not exist.
func (s *Service) Student(ctx context.Context, adminID string, ref StudentRef) (*Student, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.Students.Resolve(ctx, adminID, ref)
}

// StudentAttendance returns the sessions ref attended. An unknown student
// has an empty history.
func (s *Service) StudentAttendance(ctx context.Context, adminID string, ref StudentRef) ([]SessionAttendance, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	history, err := s.Reports.StudentHistory(ctx, adminID, ref)
	if errors.Is(err, ErrNotFound) {
		return []SessionAttendance{}, nil
	}
	return history, err
}

// Login checks a student's USN and date of birth.
func (s *Service) Login(ctx context.Context, usn, dob string) (*Student, Result, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	st, err := s.Students.Login(ctx, usn, dob)
	if err != nil {
		if IsFault(err) {
			return nil, Result{}, err
		}
		return nil, failure(err), nil
	}
	return &st, Result{Success: true, Message: "Signed in.", StudentID: st.ID}, nil
}
