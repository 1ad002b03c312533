package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an event log entry
type EventKind string

const (
	EventGlucose    EventKind = "glucose"
	EventCarbs      EventKind = "carbs"
	EventDose       EventKind = "dose"
	EventConnection EventKind = "connection"
)

// PumpEvent is one immutable entry in the event log
type PumpEvent struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	Kind    EventKind `json:"kind"`
	Message string    `json:"message"`
}
