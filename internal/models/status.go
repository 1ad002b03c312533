package models

import "time"

// StaleAfter is how old the latest reading may get before it is flagged stale
const StaleAfter = 15 * time.Minute

// NewGlucoseStatus builds the display status for the latest reading.
// prev may be nil when there is only one reading.
func NewGlucoseStatus(latest GlucoseSample, prev *GlucoseSample, settings *Settings, now time.Time) *GlucoseStatus {
	age := max(now.Sub(latest.Time), 0)

	status := &GlucoseStatus{
		Value:        latest.ValueMgDL(),
		ValueMmol:    latest.ValueMmolL(),
		Time:         latest.Time,
		Status:       settings.GetGlucoseStatus(latest.Value),
		StaleMinutes: int(age.Minutes()),
		IsStale:      age > StaleAfter,
	}
	if prev != nil {
		status.Delta = latest.Value - prev.Value
	}
	return status
}

// NewChartData converts samples, oldest first, into chart points in the
// preferred display unit with the thresholds converted to match.
func NewChartData(samples []GlucoseSample, settings *Settings, windowMinutes int) *ChartData {
	unit := settings.DisplayUnit()
	cfg := settings.Clone()

	entries := make([]ChartEntry, len(samples))
	for i, s := range samples {
		entries[i] = ChartEntry{
			Time:    s.Time.UnixMilli(),
			Value:   unit.Convert(s.Value),
			ValueMg: s.Value,
			Status:  settings.GetGlucoseStatus(s.Value),
		}
	}

	return &ChartData{
		Entries:       entries,
		TargetLow:     unit.Convert(float64(cfg.TargetLow)),
		TargetHigh:    unit.Convert(float64(cfg.TargetHigh)),
		UrgentLow:     unit.Convert(float64(cfg.UrgentLow)),
		UrgentHigh:    unit.Convert(float64(cfg.UrgentHigh)),
		WindowMinutes: windowMinutes,
		Unit:          unit,
	}
}
