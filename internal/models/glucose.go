// Package models contains data structures used throughout the application
package models

import (
	"time"

	"github.com/google/uuid"
)

// MgdlPerMmol is the divisor between mg/dL and mmol/L
const MgdlPerMmol = 18.0

// Simulated sensor range in mg/dL
const (
	GlucoseFloor   = 60.0
	GlucoseCeiling = 250.0
)

// DisplayUnit selects how glucose values are shown. Storage is always mg/dL.
type DisplayUnit string

const (
	UnitMgdl DisplayUnit = "mg/dL"
	UnitMmol DisplayUnit = "mmol/L"
)

// Valid reports whether u is a known unit
func (u DisplayUnit) Valid() bool {
	return u == UnitMgdl || u == UnitMmol
}

// Convert returns a canonical mg/dL value expressed in u
func (u DisplayUnit) Convert(mgdl float64) float64 {
	if u == UnitMmol {
		return ToMmol(mgdl)
	}
	return mgdl
}

// ToMmol converts mg/dL to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / MgdlPerMmol
}

// ToMgdl converts mmol/L to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * MgdlPerMmol
}

// GlucoseSample is a single simulated sensor reading
type GlucoseSample struct {
	ID    uuid.UUID `json:"id"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"` // mg/dL
}

// NewGlucoseSample creates a sample with a fresh ID
func NewGlucoseSample(t time.Time, mgdl float64) GlucoseSample {
	return GlucoseSample{
		ID:    uuid.New(),
		Time:  t,
		Value: mgdl,
	}
}

// ValueMgDL returns the reading rounded to whole mg/dL
func (g GlucoseSample) ValueMgDL() int {
	return int(g.Value + 0.5)
}

// ValueMmolL returns the reading in mmol/L
func (g GlucoseSample) ValueMmolL() float64 {
	return ToMmol(g.Value)
}

// GlucoseStatus represents the current glucose status for display
type GlucoseStatus struct {
	Value        int       `json:"value"`        // mg/dL
	ValueMmol    float64   `json:"valueMmol"`    // mmol/L
	Time         time.Time `json:"time"`         // Reading time
	Delta        float64   `json:"delta"`        // Change from previous reading, mg/dL
	Status       string    `json:"status"`       // "normal", "high", "low", "urgent_high", "urgent_low"
	StaleMinutes int       `json:"staleMinutes"` // Minutes since last reading
	IsStale      bool      `json:"isStale"`
}

// ChartData represents data for the glucose chart
type ChartData struct {
	Entries       []ChartEntry `json:"entries"`
	TargetLow     float64      `json:"targetLow"`
	TargetHigh    float64      `json:"targetHigh"`
	UrgentLow     float64      `json:"urgentLow"`
	UrgentHigh    float64      `json:"urgentHigh"`
	WindowMinutes int          `json:"windowMinutes"`
	Unit          DisplayUnit  `json:"unit"`
}

// ChartEntry represents a single point on the chart
type ChartEntry struct {
	Time    int64   `json:"time"`    // Unix timestamp in milliseconds
	Value   float64 `json:"value"`   // Value in selected unit
	ValueMg float64 `json:"valueMg"` // Original mg/dL value
	Status  string  `json:"status"`  // Status for coloring
}
