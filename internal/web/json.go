package web

import (
	"time"

	"github.com/mrcode/unity-pump/internal/engine"
	"github.com/mrcode/unity-pump/internal/models"
)

// snapshot is everything the index views render, read once per request.
type snapshot struct {
	Status        engine.Status
	Glucose       *models.GlucoseStatus
	Events        []models.PumpEvent
	Now           time.Time
	Started       time.Time
	Settings      *models.Settings
	Unit          models.DisplayUnit
	MQTTEnabled   bool
	MQTTConnected bool
}

func (s snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.Started)
}

// StatusJSON is the JSON representation of the pump status.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Glucose       *GlucoseJSON `json:"glucose,omitempty"`
	Pump          PumpJSON     `json:"pump"`
	Running       bool         `json:"running"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Timestamp     string       `json:"timestamp"`
	MQTT          *MQTTJSON    `json:"mqtt,omitempty"`
	Dosing        DosingJSON   `json:"dosing"`
}

// GlucoseJSON is the latest reading.
type GlucoseJSON struct {
	Value        float64 `json:"value"`
	Unit         string  `json:"unit"`
	MgDL         int     `json:"mgdl"`
	Delta        float64 `json:"delta"`
	Status       string  `json:"status"`
	Timestamp    string  `json:"timestamp"`
	StaleMinutes int     `json:"stale_minutes"`
	Stale        bool    `json:"stale"`
}

// PumpJSON reports the pump state and last dose.
type PumpJSON struct {
	State       string    `json:"state"`
	Fault       string    `json:"fault,omitempty"`
	Connected   bool      `json:"connected"`
	InFlight    int       `json:"in_flight"`
	LastCommand string    `json:"last_command,omitempty"`
	LastDose    *DoseJSON `json:"last_dose,omitempty"`
}

// DoseJSON is one commanded bolus.
type DoseJSON struct {
	SubmissionID string  `json:"submission_id"`
	Type         string  `json:"event_type"`
	Carbs        int     `json:"carbs"`
	Units        float64 `json:"units"`
	CommandedAt  string  `json:"commanded_at"`
	CompletedAt  string  `json:"completed_at,omitempty"`
}

// MQTTJSON reports MQTT connection state.
type MQTTJSON struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DosingJSON reports the dosing parameters in use.
type DosingJSON struct {
	InsulinToCarbRatio float64 `json:"insulin_to_carb_ratio"`
	CorrectionFactor   float64 `json:"correction_factor"`
	TargetGlucose      float64 `json:"target_glucose"`
}

// EventJSON is one event log entry.
type EventJSON struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// EventsJSON is the body of /events.json, newest first.
type EventsJSON struct {
	Events []EventJSON `json:"events"`
}

func formatStatus(snap snapshot) StatusJSON {
	st := snap.Status
	inner := StatusInner{
		Pump: PumpJSON{
			State:       string(st.Pump),
			Fault:       st.FaultReason,
			Connected:   st.Connected,
			InFlight:    st.InFlight,
			LastCommand: st.LastCommand,
		},
		Running:       st.Running,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Dosing: DosingJSON{
			InsulinToCarbRatio: snap.Settings.Dosing.InsulinToCarbRatio,
			CorrectionFactor:   snap.Settings.Dosing.CorrectionFactor,
			TargetGlucose:      snap.Settings.Dosing.TargetGlucose,
		},
	}

	if st.LastDose != nil {
		d := formatDose(*st.LastDose)
		inner.Pump.LastDose = &d
	}

	if g := snap.Glucose; g != nil {
		value := float64(g.Value)
		if snap.Unit == models.UnitMmol {
			value = g.ValueMmol
		}
		inner.Glucose = &GlucoseJSON{
			Value:        value,
			Unit:         string(snap.Unit),
			MgDL:         g.Value,
			Delta:        g.Delta,
			Status:       g.Status,
			Timestamp:    g.Time.UTC().Format(time.RFC3339),
			StaleMinutes: g.StaleMinutes,
			Stale:        g.IsStale,
		}
	}

	if snap.MQTTEnabled {
		inner.MQTT = &MQTTJSON{Connected: snap.MQTTConnected, Broker: snap.Settings.MQTTBroker}
	}

	return StatusJSON{Status: inner}
}

func formatDose(d models.DoseRecord) DoseJSON {
	dj := DoseJSON{
		SubmissionID: d.SubmissionID.String(),
		Type:         d.Type,
		Carbs:        d.Carbs,
		Units:        d.Units,
		CommandedAt:  d.CommandedAt.UTC().Format(time.RFC3339),
	}
	if d.Delivered() {
		dj.CompletedAt = d.CompletedAt.UTC().Format(time.RFC3339)
	}
	return dj
}

func formatEvents(events []models.PumpEvent) EventsJSON {
	out := EventsJSON{Events: make([]EventJSON, len(events))}
	for i, ev := range events {
		out.Events[i] = EventJSON{
			ID:        ev.ID.String(),
			Timestamp: ev.Time.UTC().Format(time.RFC3339),
			Kind:      string(ev.Kind),
			Message:   ev.Message,
		}
	}
	return out
}
