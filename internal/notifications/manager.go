// Package notifications handles system notifications and alerts
package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/mrcode/unity-pump/internal/models"
)

// Alert type constants
const (
	alertUrgentLow  = "urgent_low"
	alertLow        = "low"
	alertUrgentHigh = "urgent_high"
	alertHigh       = "high"
	alertFault      = "pump_fault"
)

// NotifyFunc delivers one desktop notification
type NotifyFunc func(title, message string) error

// Manager handles glucose alerts and pump notifications
type Manager struct {
	settings      *models.Settings
	lastAlertTime map[string]time.Time
	notify        NotifyFunc
	now           func() time.Time
	mu            sync.Mutex
}

// NewManager creates a new notification manager
func NewManager(settings *models.Settings) *Manager {
	return &Manager{
		settings:      settings,
		lastAlertTime: make(map[string]time.Time),
		notify:        beeepNotify,
		now:           time.Now,
	}
}

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// SetNotifier replaces the notification backend. Passing nil restores the
// desktop notifier.
func (m *Manager) SetNotifier(fn NotifyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		fn = beeepNotify
	}
	m.notify = fn
}

// SetClock sets the time source used for repeat suppression
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// UpdateSettings updates the settings reference
func (m *Manager) UpdateSettings(settings *models.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// CheckAndNotify checks glucose value and sends notification if needed
func (m *Manager) CheckAndNotify(status *models.GlucoseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.settings.Clone()
	alertType := shouldAlert(cfg, status)
	if alertType == "" {
		return nil
	}
	if m.suppressed(cfg, alertType) {
		return nil
	}

	title, message := formatNotification(cfg, status, alertType)
	if err := m.notify(title, message); err != nil {
		return err
	}

	m.lastAlertTime[alertType] = m.now()
	return nil
}

// suppressed reports whether alertType fired within the repeat window.
// With repeats disabled an alert fires once until its state is cleared.
func (m *Manager) suppressed(cfg *models.Settings, alertType string) bool {
	lastTime, ok := m.lastAlertTime[alertType]
	if !ok {
		return false
	}
	if cfg.RepeatAlertMinutes <= 0 {
		return true
	}
	repeat := time.Duration(cfg.RepeatAlertMinutes) * time.Minute
	return m.now().Sub(lastTime) < repeat
}

// shouldAlert determines if an alert should be sent
func shouldAlert(cfg *models.Settings, status *models.GlucoseStatus) string {
	switch status.Status {
	case alertUrgentLow:
		if cfg.EnableUrgentLowAlert {
			return alertUrgentLow
		}
	case alertLow:
		if cfg.EnableLowAlert {
			return alertLow
		}
	case alertUrgentHigh:
		if cfg.EnableUrgentHighAlert {
			return alertUrgentHigh
		}
	case alertHigh:
		if cfg.EnableHighAlert {
			return alertHigh
		}
	}
	return ""
}

// formatNotification creates the notification title and message
func formatNotification(cfg *models.Settings, status *models.GlucoseStatus, alertType string) (string, string) {
	var title, message string

	valueStr := formatValue(cfg, status)
	deltaStr := formatDelta(cfg, status.Delta)

	switch alertType {
	case alertUrgentLow:
		title = "⚠️ URGENT LOW GLUCOSE"
		message = fmt.Sprintf("Glucose is critically low: %s (%s)", valueStr, deltaStr)
	case alertLow:
		title = "⬇️ Low Glucose"
		message = fmt.Sprintf("Glucose is low: %s (%s)", valueStr, deltaStr)
	case alertUrgentHigh:
		title = "⚠️ URGENT HIGH GLUCOSE"
		message = fmt.Sprintf("Glucose is critically high: %s (%s)", valueStr, deltaStr)
	case alertHigh:
		title = "⬆️ High Glucose"
		message = fmt.Sprintf("Glucose is high: %s (%s)", valueStr, deltaStr)
	}

	return title, message
}

func formatValue(cfg *models.Settings, status *models.GlucoseStatus) string {
	if cfg.Unit == models.UnitMmol {
		return fmt.Sprintf("%.1f mmol/L", status.ValueMmol)
	}
	return fmt.Sprintf("%d mg/dL", status.Value)
}

func formatDelta(cfg *models.Settings, delta float64) string {
	if cfg.Unit == models.UnitMmol {
		return fmt.Sprintf("%+.1f", models.ToMmol(delta))
	}
	return fmt.Sprintf("%+.0f", delta)
}

// NotifyDelivery announces a completed bolus
func (m *Manager) NotifyDelivery(dose models.DoseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settings.Clone().EnableDeliveryAlert {
		return nil
	}
	message := fmt.Sprintf("Delivered %.1f U", dose.Units)
	if dose.HasCarbs() {
		message = fmt.Sprintf("Delivered %.1f U for %d g carbs", dose.Units, dose.Carbs)
	}
	return m.notify("💉 Delivery Complete", message)
}

// NotifyFault announces a pump fault once until ClearAlertState
func (m *Manager) NotifyFault(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lastAlertTime[alertFault]; ok {
		return nil
	}
	if err := m.notify("⚠️ PUMP FAULT", "Pump reported an error: "+reason); err != nil {
		return err
	}
	m.lastAlertTime[alertFault] = m.now()
	return nil
}

// ClearAlertState clears the alert state for a specific type or all types
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
	} else {
		delete(m.lastAlertTime, alertType)
	}
}

// ClearFaultState re-arms the pump fault notification
func (m *Manager) ClearFaultState() {
	m.ClearAlertState(alertFault)
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify("Unity Pump", "Test notification - alerts are working!")
}
