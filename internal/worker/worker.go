// Package worker consumes attendance events off the queue.
package worker

import (
	"context"
	"log"
	"time"

	"qrattendance/internal/attendance"
	"qrattendance/internal/queue"
)

// Summarizer builds the report of one session.
type Summarizer interface {
	SessionSummary(ctx context.Context, sessionID string) (attendance.SessionReport, error)
}

// Worker logs a summary line for every closed session.
type Worker struct {
	reports Summarizer
	timeout time.Duration
	logf    func(format string, args ...any)
}

// New creates a worker; timeout bounds each summary lookup.
func New(reports Summarizer, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Worker{reports: reports, timeout: timeout, logf: log.Printf}
}

// Start consumes q in the background and returns a channel closed once the
// worker stops. The worker stops when ctx is done.
func (w *Worker) Start(ctx context.Context, q queue.Queue) (<-chan struct{}, error) {
	messages, err := q.Consume(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, messages)
	}()
	return done, nil
}

// Run processes messages until the channel closes or ctx is done.
func (w *Worker) Run(ctx context.Context, messages <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	switch msg.Type {
	case attendance.EventSessionOpened, attendance.EventAttendanceMarked:
		return
	case attendance.EventSessionClosed:
	default:
		w.logf("worker: skipping message of unknown type %q", msg.Type)
		return
	}

	evt, err := attendance.DecodeEvent(msg)
	if err != nil {
		w.logf("worker: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	summary, err := w.reports.SessionSummary(ctx, evt.SessionID)
	if err != nil {
		w.logf("worker: summary for session %s failed: %v", evt.SessionID, err)
		return
	}
	var took time.Duration
	if summary.EndTime != nil {
		took = summary.EndTime.Sub(summary.StartTime)
	}
	w.logf("session %s of admin %s closed: %d attendee(s) in %s", summary.SessionID, evt.AdminID, len(summary.Attendees), took.Round(time.Second))
}
