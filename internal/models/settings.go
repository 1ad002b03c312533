// Package models contains data structures used throughout the application
package models

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const appDirName = "unity-pump"

// DosingSettings holds the parameters the dose calculator reads.
// The core never mutates them.
type DosingSettings struct {
	InsulinToCarbRatio float64 `json:"insulinToCarbRatio"` // grams covered by one unit
	CorrectionFactor   float64 `json:"correctionFactor"`   // mg/dL lowered by one unit
	TargetGlucose      float64 `json:"targetGlucose"`      // mg/dL
}

// Validate rejects values outside the calculator's domain
func (d DosingSettings) Validate() error {
	if !positiveFinite(d.InsulinToCarbRatio) {
		return &DomainError{Field: "insulinToCarbRatio", Value: d.InsulinToCarbRatio, Want: "> 0"}
	}
	if !positiveFinite(d.CorrectionFactor) {
		return &DomainError{Field: "correctionFactor", Value: d.CorrectionFactor, Want: "> 0"}
	}
	if math.IsNaN(d.TargetGlucose) || d.TargetGlucose < GlucoseFloor || d.TargetGlucose > GlucoseCeiling {
		return &DomainError{Field: "targetGlucose", Value: d.TargetGlucose, Want: "within 60-250 mg/dL"}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Settings contains all application settings
type Settings struct {
	mu sync.RWMutex `json:"-"`

	// Dosing
	Dosing DosingSettings `json:"dosing"`

	// Nightscout upload (empty URL disables it)
	NightscoutURL string `json:"nightscoutUrl"`
	APISecret     string `json:"apiSecret"` // Plain API secret (will be hashed)
	APIToken      string `json:"apiToken"`  // Token-based auth
	UseToken      bool   `json:"useToken"`  // Use token instead of secret

	// Display settings
	Unit DisplayUnit `json:"unit"`

	// Glucose thresholds (in mg/dL, converted for display)
	TargetLow  int `json:"targetLow"`
	TargetHigh int `json:"targetHigh"`
	UrgentLow  int `json:"urgentLow"`
	UrgentHigh int `json:"urgentHigh"`

	// Alert settings
	EnableHighAlert       bool `json:"enableHighAlert"`
	EnableLowAlert        bool `json:"enableLowAlert"`
	EnableUrgentHighAlert bool `json:"enableUrgentHighAlert"`
	EnableUrgentLowAlert  bool `json:"enableUrgentLowAlert"`
	EnableDeliveryAlert   bool `json:"enableDeliveryAlert"`
	RepeatAlertMinutes    int  `json:"repeatAlertMinutes"` // 0 = no repeat

	// Simulation settings
	BaselineGlucose    float64 `json:"baselineGlucose"`    // mg/dL the random walk starts from
	TickSeconds        int     `json:"tickSeconds"`        // Seconds between readings
	DeliveryDelayMs    int     `json:"deliveryDelayMs"`    // Time from command to delivery complete
	HistoryCapacity    int     `json:"historyCapacity"`    // Samples kept in memory
	ChartWindowMinutes int     `json:"chartWindowMinutes"` // Trailing window shown on the chart
	EventDisplayLimit  int     `json:"eventDisplayLimit"`  // Events shown in the log view

	// Outputs
	MQTTBroker   string `json:"mqttBroker"` // Empty disables publishing
	MQTTClientID string `json:"mqttClientId"`
	HTTPAddr     string `json:"httpAddr"` // Empty disables the status server

	// System settings
	StartMinimized bool `json:"startMinimized"`

	// Window state (not user-configurable)
	WindowWidth  int `json:"windowWidth"`
	WindowHeight int `json:"windowHeight"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		Dosing: DosingSettings{
			InsulinToCarbRatio: 10,
			CorrectionFactor:   50,
			TargetGlucose:      110,
		},
		Unit: UnitMgdl,

		NightscoutURL: "",
		APISecret:     "",
		APIToken:      "",
		UseToken:      false,

		TargetLow:  70,
		TargetHigh: 180,
		UrgentLow:  55,
		UrgentHigh: 250,

		EnableHighAlert:       true,
		EnableLowAlert:        true,
		EnableUrgentHighAlert: true,
		EnableUrgentLowAlert:  true,
		EnableDeliveryAlert:   true,
		RepeatAlertMinutes:    15,

		BaselineGlucose:    110,
		TickSeconds:        5,
		DeliveryDelayMs:    2000,
		HistoryCapacity:    200,
		ChartWindowMinutes: 60,
		EventDisplayLimit:  20,

		MQTTBroker:   "",
		MQTTClientID: "unity-pump",
		HTTPAddr:     ":8080",

		StartMinimized: true,

		WindowWidth:  420,
		WindowHeight: 760,
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	appDir := filepath.Join(configDir, appDirName)
	if err := os.MkdirAll(appDir, 0750); err != nil {
		return "", err
	}

	return appDir, nil
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// Load loads settings from the default config path
func (s *Settings) Load() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return s.LoadFrom(path)
}

// LoadFrom loads settings from path. A missing file leaves the defaults in place.
func (s *Settings) LoadFrom(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // Config path is controlled by the app, not user input
	if err != nil {
		if os.IsNotExist(err) {
			s.copySettingsFields(DefaultSettings())
			return nil
		}
		return err
	}

	return json.Unmarshal(data, s)
}

// Save saves settings to the default config path
func (s *Settings) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return s.SaveTo(path)
}

// SaveTo writes settings to path
func (s *Settings) SaveTo(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Clone creates a copy of the settings
func (s *Settings) Clone() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Settings{}
	clone.copySettingsFields(s)
	return clone
}

// Update updates settings from another Settings object
func (s *Settings) Update(other *Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	s.copySettingsFields(other)
}

// copySettingsFields copies all fields from other to s, excluding the mutex.
// The caller must hold the necessary locks on s and other.
func (s *Settings) copySettingsFields(other *Settings) {
	s.Dosing = other.Dosing
	s.NightscoutURL = other.NightscoutURL
	s.APISecret = other.APISecret
	s.APIToken = other.APIToken
	s.UseToken = other.UseToken
	s.Unit = other.Unit
	s.TargetLow = other.TargetLow
	s.TargetHigh = other.TargetHigh
	s.UrgentLow = other.UrgentLow
	s.UrgentHigh = other.UrgentHigh
	s.EnableHighAlert = other.EnableHighAlert
	s.EnableLowAlert = other.EnableLowAlert
	s.EnableUrgentHighAlert = other.EnableUrgentHighAlert
	s.EnableUrgentLowAlert = other.EnableUrgentLowAlert
	s.EnableDeliveryAlert = other.EnableDeliveryAlert
	s.RepeatAlertMinutes = other.RepeatAlertMinutes
	s.BaselineGlucose = other.BaselineGlucose
	s.TickSeconds = other.TickSeconds
	s.DeliveryDelayMs = other.DeliveryDelayMs
	s.HistoryCapacity = other.HistoryCapacity
	s.ChartWindowMinutes = other.ChartWindowMinutes
	s.EventDisplayLimit = other.EventDisplayLimit
	s.MQTTBroker = other.MQTTBroker
	s.MQTTClientID = other.MQTTClientID
	s.HTTPAddr = other.HTTPAddr
	s.StartMinimized = other.StartMinimized
	s.WindowWidth = other.WindowWidth
	s.WindowHeight = other.WindowHeight
}

// Validate checks the values the engine depends on
func (s *Settings) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.Dosing.Validate(); err != nil {
		return err
	}
	if !s.Unit.Valid() {
		return &DomainError{Field: "unit", Value: math.NaN(), Want: `"mg/dL" or "mmol/L"`}
	}
	if s.TickSeconds <= 0 {
		return &DomainError{Field: "tickSeconds", Value: float64(s.TickSeconds), Want: "> 0"}
	}
	if s.DeliveryDelayMs < 0 {
		return &DomainError{Field: "deliveryDelayMs", Value: float64(s.DeliveryDelayMs), Want: ">= 0"}
	}
	if s.HistoryCapacity <= 0 {
		return &DomainError{Field: "historyCapacity", Value: float64(s.HistoryCapacity), Want: "> 0"}
	}
	if s.BaselineGlucose < GlucoseFloor || s.BaselineGlucose > GlucoseCeiling {
		return &DomainError{Field: "baselineGlucose", Value: s.BaselineGlucose, Want: "within 60-250 mg/dL"}
	}
	return nil
}

// DosingSettings returns the current dosing parameters.
// It satisfies engine.DosingSource.
func (s *Settings) DosingSettings() DosingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Dosing
}

// NightscoutChanged reports whether the upload target differs from other
func (s *Settings) NightscoutChanged(other *Settings) bool {
	a, b := s.Clone(), other.Clone()
	return a.NightscoutURL != b.NightscoutURL ||
		a.APISecret != b.APISecret ||
		a.APIToken != b.APIToken ||
		a.UseToken != b.UseToken
}

// DisplayUnit returns the preferred display unit, falling back to mg/dL
func (s *Settings) DisplayUnit() DisplayUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Unit.Valid() {
		return UnitMgdl
	}
	return s.Unit
}

// TickInterval returns the simulation tick period
func (s *Settings) TickInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.TickSeconds) * time.Second
}

// DeliveryDelay returns the time from command to delivery complete
func (s *Settings) DeliveryDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.DeliveryDelayMs) * time.Millisecond
}

// GetGlucoseStatus returns the status string for a glucose value
func (s *Settings) GetGlucoseStatus(mgdl float64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case mgdl <= float64(s.UrgentLow):
		return "urgent_low"
	case mgdl <= float64(s.TargetLow):
		return "low"
	case mgdl >= float64(s.UrgentHigh):
		return "urgent_high"
	case mgdl >= float64(s.TargetHigh):
		return "high"
	default:
		return "normal"
	}
}
