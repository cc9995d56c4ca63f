// Package metrics holds the prometheus collectors of the attendance service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Marks counts check-in attempts by outcome: marked, already_marked or rejected.
	Marks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marks_total",
		Help: "Check-in attempts by outcome.",
	}, []string{"outcome"})

	// SessionTransitions counts sessions opened and closed.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sessions_total",
		Help: "Attendance session transitions.",
	}, []string{"transition"})

	// StudentsAdded counts students accepted into a roster.
	StudentsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_students_added_total",
		Help: "Students added to a roster.",
	})

	// ReportSessions observes how many sessions each daily report returns.
	ReportSessions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_report_sessions",
		Help:    "Sessions returned per daily report.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	})

	// QueuePublishFailures counts events that could not be handed to the queue.
	QueuePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_queue_publish_failures_total",
		Help: "Domain events dropped because the queue rejected them.",
	})
)
