// Package mqtt publishes pump events to an MQTT broker, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/mrcode/unity-pump/internal/models"
)

// Topic is the MQTT topic for pump log events.
const Topic = "unitypump/events"

// TopicDose is the MQTT topic for completed deliveries.
const TopicDose = "unitypump/dose"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "unitypump/system"

// System event names.
const (
	SystemStartup   = "STARTUP"
	SystemShutdown  = "SHUTDOWN"
	SystemHeartbeat = "HEARTBEAT"
	SystemOffline   = "OFFLINE"
)

// Publisher publishes pump activity to MQTT.
type Publisher interface {
	// Publish sends one event log entry to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event models.PumpEvent) error

	// PublishDose sends a completed delivery.
	PublishDose(dose models.DoseRecord) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // shutdown only, e.g. "SIGTERM"
	Status    any    // optional snapshot included in the payload
	Retained  bool
}

// Payload is the message body for an event log entry.
type Payload struct {
	Pump EventPayload `json:"pump"`
}

// EventPayload contains the event details.
type EventPayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// FormatPayload creates the JSON payload for an event log entry.
func FormatPayload(event models.PumpEvent) ([]byte, error) {
	return json.Marshal(Payload{
		Pump: EventPayload{
			ID:        event.ID.String(),
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Kind:      string(event.Kind),
			Message:   event.Message,
		},
	})
}

// DosePayload is the message body for a completed delivery.
type DosePayload struct {
	Dose DoseDetails `json:"dose"`
}

// DoseDetails contains the delivery details.
type DoseDetails struct {
	SubmissionID string  `json:"submissionId"`
	Type         string  `json:"eventType"`
	Carbs        int     `json:"carbs"`
	Insulin      float64 `json:"insulin"`
	CommandedAt  string  `json:"commandedAt"`
	CompletedAt  string  `json:"completedAt,omitempty"`
}

// FormatDosePayload creates the JSON payload for a delivery.
func FormatDosePayload(dose models.DoseRecord) ([]byte, error) {
	d := DoseDetails{
		SubmissionID: dose.SubmissionID.String(),
		Type:         dose.Type,
		Carbs:        dose.Carbs,
		Insulin:      dose.Units,
		CommandedAt:  dose.CommandedAt.UTC().Format(time.RFC3339),
	}
	if dose.Delivered() {
		d.CompletedAt = dose.CompletedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(DosePayload{Dose: d})
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Status    any    `json:"status,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Status:    event.Status,
		},
	})
}
