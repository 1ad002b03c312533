package sim

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mrcode/unity-pump/internal/models"
)

// EventLog records every notable occurrence, newest first.
//
// The log is never trimmed: it is the audit trail for the life of the
// process. Views truncate with Recent.
type EventLog struct {
	// stored oldest first; reads reverse
	events []models.PumpEvent
}

// NewEventLog creates an empty log
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Record creates an event and places it at the head of the log
func (l *EventLog) Record(kind models.EventKind, message string, t time.Time) models.PumpEvent {
	ev := models.PumpEvent{
		ID:      uuid.New(),
		Time:    t,
		Kind:    kind,
		Message: message,
	}
	l.events = append(l.events, ev)
	return ev
}

// Recent returns at most n events, newest first. n <= 0 means all.
func (l *EventLog) Recent(n int) []models.PumpEvent {
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]models.PumpEvent, n)
	copy(out, l.events[len(l.events)-n:])
	return lo.Reverse(out)
}

// Len returns the number of recorded events
func (l *EventLog) Len() int {
	return len(l.events)
}
