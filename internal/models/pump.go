package models

import (
	"time"

	"github.com/google/uuid"
)

// PumpState is the pump status reported to the UI
type PumpState string

const (
	PumpIdle       PumpState = "idle"
	PumpDelivering PumpState = "delivering"
	PumpError      PumpState = "error"
)

// Label returns the capitalised state for display
func (s PumpState) Label() string {
	switch s {
	case PumpIdle:
		return "Idle"
	case PumpDelivering:
		return "Delivering"
	case PumpError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Treatment types used for dose records. Names follow the Nightscout
// careportal event types.
var TreatmentEventTypes = struct {
	MealBolus string
}{
	MealBolus: "Meal Bolus",
}

// DoseRecord describes one carbohydrate submission and the insulin it commanded
type DoseRecord struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	Carbs        int       `json:"carbs"` // grams
	Units        float64   `json:"units"`
	Type         string    `json:"type"`
	CommandedAt  time.Time `json:"commandedAt"`
	CompletedAt  time.Time `json:"completedAt,omitempty"` // zero until delivery completes
}

// Delivered returns true once the pump has reported completion
func (d DoseRecord) Delivered() bool {
	return !d.CompletedAt.IsZero()
}

// HasCarbs returns true if this dose covered carbohydrates
func (d DoseRecord) HasCarbs() bool {
	return d.Carbs > 0
}
