package tray

import (
	"fmt"
	"math"
	"strings"

	"github.com/mrcode/unity-pump/internal/models"
)

// Braille blocks from empty to full, four sub-blocks per line
var blocks = []rune{'⠀', '⣀', '⣤', '⣶', '⣿'}

// Tooltip builds the tray tooltip. Windows limits tooltips to 128 UTF-16
// characters so it gets a compact layout.
func (g *IconGenerator) Tooltip(status *models.GlucoseStatus, unit models.DisplayUnit, pump models.PumpState) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if status == nil {
		return "Unity Pump - " + pump.Label()
	}

	valueStr := FormatValue(status, unit)
	arrow := TrendArrow(Direction(status.Delta))

	if g.goos == osWindows {
		tooltip := fmt.Sprintf("%s%s %s", valueStr, unit, arrow)
		if sparkline := g.generateCompactSparkline(); sparkline != "" {
			tooltip += "\n" + sparkline
		}
		tooltip += fmt.Sprintf("\n%s %s %s", formatCompactStatus(status.Status), formatCompactDuration(status.StaleMinutes), pump.Label())
		if status.IsStale {
			tooltip += " ⚠"
		}
		return tooltip
	}

	tooltip := fmt.Sprintf("%s %s %s\n%s\nStatus: %s\nPump: %s\nUpdated: %s ago",
		valueStr, unit, arrow,
		g.generateMultiLineSparkline(),
		formatStatus(status.Status),
		pump.Label(),
		formatDuration(status.StaleMinutes))
	if status.IsStale {
		tooltip += "\n⚠️ No fresh readings"
	}
	return tooltip
}

// formatStatus returns a human-readable status string
func formatStatus(status string) string {
	switch status {
	case statusUrgentLow:
		return "Urgent Low"
	case statusUrgentHigh:
		return "Urgent High"
	case statusLow:
		return "Low"
	case statusHigh:
		return "High"
	case statusNormal:
		return "In Range"
	default:
		return status
	}
}

// formatDuration formats minutes into a human-readable duration
func formatDuration(minutes int) string {
	if minutes < 1 {
		return "just now"
	}
	if minutes == 1 {
		return "1 minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// formatCompactStatus returns a compact status string for Windows tooltips
func formatCompactStatus(status string) string {
	switch status {
	case statusUrgentLow:
		return "🔻URGENT"
	case statusUrgentHigh:
		return "🔺URGENT"
	case statusLow:
		return "↓Low"
	case statusHigh:
		return "↑High"
	case statusNormal:
		return "✓OK"
	default:
		return status
	}
}

// formatCompactDuration formats minutes into a compact duration for Windows
func formatCompactDuration(minutes int) string {
	if minutes < 1 {
		return "now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh", minutes/60)
}

func (g *IconGenerator) bounds() (lo, hi float64) {
	lo, hi = g.history[0], g.history[0]
	for _, v := range g.history {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// generateCompactSparkline creates a 2-line sparkline. Caller holds mu.
func (g *IconGenerator) generateCompactSparkline() string {
	if len(g.history) < 2 {
		return ""
	}

	minVal, maxVal := g.bounds()
	rangeVal := maxVal - minVal
	if rangeVal == 0 {
		rangeVal = 1
	}

	var top, bottom strings.Builder
	for _, val := range g.history {
		// 0-8 sub-blocks across both lines
		height := int(math.Round((val - minVal) / rangeVal * 8))
		lower := min(height, 4)
		upper := max(height-4, 0)
		if lower == 0 {
			lower = 1
		}
		top.WriteRune(blocks[upper])
		bottom.WriteRune(blocks[lower])
	}

	return top.String() + "\n" + bottom.String()
}

// generateMultiLineSparkline creates a multi-line Braille chart. Caller holds mu.
func (g *IconGenerator) generateMultiLineSparkline() string {
	if len(g.history) < 2 {
		return ""
	}

	const height = 10
	subBlocksPerLine := float64(len(blocks) - 1)

	minVal, maxVal := g.bounds()
	buffer := 10.0
	if maxVal < 30 {
		// mmol/L
		buffer = 0.5
	}
	minVal = math.Max(0, minVal-buffer)
	maxVal += buffer
	rangeVal := maxVal - minVal

	rows := make([][]rune, height)
	for i := range rows {
		rows[i] = []rune(strings.Repeat(string(blocks[0]), len(g.history)))
	}

	for x, val := range g.history {
		totalSubBlocks := (val - minVal) / rangeVal * height * subBlocksPerLine

		for y := 0; y < height; y++ {
			lineIdx := height - 1 - y
			lineStart := float64(y) * subBlocksPerLine
			lineEnd := float64(y+1) * subBlocksPerLine

			if totalSubBlocks >= lineEnd {
				rows[lineIdx][x] = blocks[len(blocks)-1]
			} else if totalSubBlocks > lineStart {
				remainder := int(math.Round(totalSubBlocks - lineStart))
				remainder = max(0, min(remainder, len(blocks)-1))
				rows[lineIdx][x] = blocks[remainder]
			}
		}
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Max: %.0f\n", maxVal)
	for _, row := range rows {
		result.WriteString(string(row))
		result.WriteString("\n")
	}
	fmt.Fprintf(&result, "Min: %.0f", minVal)
	return result.String()
}
