package attendance

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxReportFanout bounds concurrent attendee reads per daily report.
const maxReportFanout = 8

// Reports joins sessions, attendees and students into read views.
type Reports struct {
	sessions  SessionStore
	attendees AttendeeStore
	directory *StudentDirectory
	students  StudentStore
	loc       *time.Location
}

// NewReports creates an aggregator. Calendar days are evaluated in loc.
func NewReports(store Store, directory *StudentDirectory, loc *time.Location) *Reports {
	if loc == nil {
		loc = time.UTC
	}
	return &Reports{sessions: store, attendees: store, students: store, directory: directory, loc: loc}
}

// DayBounds returns the first and last millisecond of date's calendar day in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// DailyReport returns adminID's sessions that started on date's calendar
// day, earliest first, each with its hydrated attendees.
func (r *Reports) DailyReport(ctx context.Context, adminID string, date time.Time) ([]SessionReport, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, validationErr("admin id is required")
	}
	from, to := DayBounds(date, r.loc)
	sessions, err := r.sessions.SessionsStartedBetween(ctx, adminID, from, to)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}

	out := make([]SessionReport, len(sessions))
	cache := newStudentCache(r.students)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxReportFanout)
	for i, s := range sessions {
		out[i] = SessionReport{SessionID: s.ID, StartTime: s.StartTime, EndTime: s.EndTime, Attendees: []Attendee{}}
		g.Go(func() error {
			attendees, err := r.hydrate(gctx, cache, adminID, s.ID)
			if err != nil {
				return err
			}
			out[i].Attendees = attendees
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storageErr("list attendees", err)
	}
	return out, nil
}

func (r *Reports) hydrate(ctx context.Context, cache *studentCache, adminID, sessionID string) ([]Attendee, error) {
	records, err := r.attendees.Attendees(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	attendees := make([]Attendee, 0, len(records))
	for _, rec := range records {
		st, err := cache.get(ctx, rec.StudentID)
		if err != nil {
			return nil, err
		}
		// Records whose student no longer resolves in this tenant are dropped.
		if st == nil || st.AdminID != adminID {
			continue
		}
		attendees = append(attendees, Attendee{
			StudentID:   st.ID,
			StudentName: st.Name,
			StudentUSN:  st.USN,
			Timestamp:   rec.Timestamp,
		})
	}
	sort.SliceStable(attendees, func(i, j int) bool {
		return attendees[i].Timestamp.Before(attendees[j].Timestamp)
	})
	return attendees, nil
}

// StudentHistory returns every session ref attended, oldest first.
func (r *Reports) StudentHistory(ctx context.Context, adminID string, ref StudentRef) ([]SessionAttendance, error) {
	st, err := r.directory.Resolve(ctx, adminID, ref)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, notFoundErr("student not found")
	}
	records, err := r.attendees.AttendanceOf(ctx, st.ID)
	if err != nil {
		return nil, storageErr("student attendance", err)
	}
	out := make([]SessionAttendance, 0, len(records))
	for _, rec := range records {
		out = append(out, SessionAttendance{SessionID: rec.SessionID, Timestamp: rec.Timestamp})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SessionSummary returns one session with its hydrated attendees.
func (r *Reports) SessionSummary(ctx context.Context, sessionID string) (SessionReport, error) {
	sess, err := r.sessions.Session(ctx, sessionID)
	if err != nil {
		return SessionReport{}, storageErr("load session", err)
	}
	if sess == nil {
		return SessionReport{}, notFoundErr("session not found")
	}
	attendees, err := r.hydrate(ctx, newStudentCache(r.students), sess.AdminID, sess.ID)
	if err != nil {
		return SessionReport{}, storageErr("list attendees", err)
	}
	return SessionReport{SessionID: sess.ID, StartTime: sess.StartTime, EndTime: sess.EndTime, Attendees: attendees}, nil
}
