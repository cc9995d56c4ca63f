package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"qrattendance/internal/metrics"
	"qrattendance/internal/queue"
)

// Event types published on the queue.
const (
	EventSessionOpened    = "session.opened"
	EventSessionClosed    = "session.closed"
	EventAttendanceMarked = "attendance.marked"
)

// Event is the queue payload of a domain event.
type Event struct {
	AdminID   string    `json:"admin_id,omitempty"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts queue messages. queue.Queue implementations satisfy it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// DecodeEvent parses the body of a queue message.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	return evt, nil
}

func publish(ctx context.Context, pub Publisher, typ string, evt Event) {
	if pub == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err == nil {
		err = pub.Publish(ctx, queue.Message{Type: typ, Body: body})
	}
	if err != nil {
		metrics.QueuePublishFailures.Inc()
		log.Printf("queue publish %s for session %s failed: %v", typ, evt.SessionID, err)
	}
}
