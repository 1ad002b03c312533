package nightscout

import (
	"fmt"
	"time"

	"github.com/mrcode/unity-pump/internal/models"
)

// Device is reported as the source of uploaded entries and treatments
const Device = "unity-pump"

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status            string `json:"status"`
	Name              string `json:"name"`
	Version           string `json:"version"`
	ServerTime        string `json:"serverTime"`
	APIEnabled        bool   `json:"apiEnabled"`
	CareportalEnabled bool   `json:"careportalEnabled"`
}

// Entry is a sensor glucose value in the entries API format
type Entry struct {
	Type       string `json:"type"` // always "sgv"
	SGV        int    `json:"sgv"`  // mg/dL
	Date       int64  `json:"date"` // Unix timestamp in milliseconds
	DateString string `json:"dateString"`
	Direction  string `json:"direction,omitempty"`
	Device     string `json:"device"`
}

// NewEntry converts a simulated sample. direction is a trend name such as
// "Flat" or "SingleUp".
func NewEntry(sample models.GlucoseSample, direction string) Entry {
	return Entry{
		Type:       "sgv",
		SGV:        sample.ValueMgDL(),
		Date:       sample.Time.UnixMilli(),
		DateString: sample.Time.UTC().Format(time.RFC3339),
		Direction:  direction,
		Device:     Device,
	}
}

// Treatment is a careportal record (insulin, carbs)
type Treatment struct {
	EventType string  `json:"eventType"`
	CreatedAt string  `json:"created_at"`
	Insulin   float64 `json:"insulin,omitempty"` // Units of insulin
	Carbs     float64 `json:"carbs,omitempty"`   // Grams of carbohydrates
	EnteredBy string  `json:"enteredBy"`
	Notes     string  `json:"notes,omitempty"`
}

// Time returns the time of the treatment
func (t Treatment) Time() time.Time {
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// NewTreatment converts a completed delivery. The completion time is used
// when set, otherwise the command time.
func NewTreatment(dose models.DoseRecord) Treatment {
	at := dose.CommandedAt
	if dose.Delivered() {
		at = dose.CompletedAt
	}
	eventType := dose.Type
	if eventType == "" {
		eventType = models.TreatmentEventTypes.MealBolus
	}
	return Treatment{
		EventType: eventType,
		CreatedAt: at.UTC().Format(time.RFC3339),
		Insulin:   dose.Units,
		Carbs:     float64(dose.Carbs),
		EnteredBy: Device,
		Notes:     fmt.Sprintf("submission %s", dose.SubmissionID),
	}
}
