// Package tray renders the system tray icon, label and tooltip
package tray

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"runtime"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/unity-pump/internal/models"
)

const (
	osWindows        = "windows"
	statusUrgentLow  = "urgent_low"
	statusUrgentHigh = "urgent_high"
	statusLow        = "low"
	statusHigh       = "high"
	statusNormal     = "normal"

	historySize = 24
)

// Trend directions drawn on the icon
const (
	DirectionDoubleUp      = "DoubleUp"
	DirectionSingleUp      = "SingleUp"
	DirectionFortyFiveUp   = "FortyFiveUp"
	DirectionFlat          = "Flat"
	DirectionFortyFiveDown = "FortyFiveDown"
	DirectionSingleDown    = "SingleDown"
	DirectionDoubleDown    = "DoubleDown"
)

// IconGenerator renders tray icons and keeps a short value history for
// the tooltip sparkline
type IconGenerator struct {
	mu      sync.Mutex
	history []float64
	goos    string
}

// NewIconGenerator creates an icon generator for the current platform
func NewIconGenerator() *IconGenerator {
	return &IconGenerator{
		history: make([]float64, 0, historySize),
		goos:    runtime.GOOS,
	}
}

// AddHistory appends a value in display units, keeping the last 24
func (g *IconGenerator) AddHistory(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, value)
	if len(g.history) > historySize {
		g.history = g.history[len(g.history)-historySize:]
	}
}

// ClearHistory drops the sparkline history, e.g. after a unit change
func (g *IconGenerator) ClearHistory() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = make([]float64, 0, historySize)
}

// Direction maps a per-reading delta in mg/dL to a trend direction
func Direction(delta float64) string {
	switch {
	case delta >= 3:
		return DirectionDoubleUp
	case delta >= 2:
		return DirectionSingleUp
	case delta >= 1:
		return DirectionFortyFiveUp
	case delta > -1:
		return DirectionFlat
	case delta > -2:
		return DirectionFortyFiveDown
	case delta > -3:
		return DirectionSingleDown
	default:
		return DirectionDoubleDown
	}
}

// TrendArrow returns the text arrow for a direction
func TrendArrow(direction string) string {
	switch direction {
	case DirectionDoubleUp:
		return "⇈"
	case DirectionSingleUp:
		return "↑"
	case DirectionFortyFiveUp:
		return "↗"
	case DirectionFlat:
		return "→"
	case DirectionFortyFiveDown:
		return "↘"
	case DirectionSingleDown:
		return "↓"
	case DirectionDoubleDown:
		return "⇊"
	default:
		return ""
	}
}

// FormatValue formats the reading in the display unit
func FormatValue(status *models.GlucoseStatus, unit models.DisplayUnit) string {
	if unit == models.UnitMmol {
		return fmt.Sprintf("%.1f", status.ValueMmol)
	}
	return fmt.Sprintf("%d", status.Value)
}

// Label is the short text shown next to the tray icon
func Label(status *models.GlucoseStatus, unit models.DisplayUnit, pump models.PumpState) string {
	if status == nil {
		return "---"
	}
	label := FormatValue(status, unit) + " " + TrendArrow(Direction(status.Delta))
	switch pump {
	case models.PumpDelivering:
		label += " 💉"
	case models.PumpError:
		label += " ⚠"
	}
	return label
}

// Render draws the icon for a glucose status and pump state. A nil status
// renders the placeholder icon, or the error icon while the pump is faulted.
func (g *IconGenerator) Render(status *models.GlucoseStatus, unit models.DisplayUnit, pump models.PumpState) []byte {
	if status == nil && pump == models.PumpError {
		return g.renderError()
	}
	text, direction := "---", ""
	if status != nil {
		text = FormatValue(status, unit)
		direction = Direction(status.Delta)
	}
	return g.generateIcon(text, direction, statusColor(status), pump)
}

func (g *IconGenerator) renderError() []byte {
	return g.generateIcon("ERR", "", "#808080", models.PumpError)
}

// generateIcon generates an icon with text using gg
func (g *IconGenerator) generateIcon(text, direction, bgHex string, pump models.PumpState) []byte {
	const (
		width  = 64
		height = 64
		radius = 16
	)

	dc := gg.NewContext(width, height)

	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	r, gr, b := parseHexColor(bgHex)
	dc.SetRGB255(int(r), int(gr), int(b))
	dc.DrawRoundedRectangle(0, 0, float64(width), float64(height), float64(radius))
	dc.Fill()

	// Text color (black or white depending on brightness)
	brightness := (int(r)*299 + int(gr)*587 + int(b)*114) / 1000
	if brightness > 128 {
		dc.SetColor(color.Black)
	} else {
		dc.SetColor(color.White)
	}

	fontSize := 34.0
	if len(text) > 3 {
		fontSize = 26
	}
	if err := loadFont(dc, fontSize); err == nil {
		dc.DrawStringAnchored(text, width/2, height/2-12, 0.5, 0.5)
	}

	if direction != "" {
		drawArrow(dc, width/2, height-16, 24, direction)
	}

	drawPumpIndicator(dc, width, pump)

	if g.goos == osWindows {
		return imageToICO(dc.Image())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil
	}
	return buf.Bytes()
}

// drawPumpIndicator marks the top-right corner: blue while delivering,
// red when the pump is faulted
func drawPumpIndicator(dc *gg.Context, width int, pump models.PumpState) {
	var hex string
	switch pump {
	case models.PumpDelivering:
		hex = "#3b82f6"
	case models.PumpError:
		hex = "#dc2626"
	default:
		return
	}

	r, g, b := parseHexColor(hex)
	dc.SetRGB255(255, 255, 255)
	dc.DrawCircle(float64(width)-10, 10, 9)
	dc.Fill()
	dc.SetRGB255(int(r), int(g), int(b))
	dc.DrawCircle(float64(width)-10, 10, 7)
	dc.Fill()
}

func loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	return nil
}

// drawArrow draws a vector arrow based on direction
func drawArrow(dc *gg.Context, x, y, size float64, direction string) {
	dc.Push()
	defer dc.Pop()

	dc.Translate(x, y)

	var angle float64
	switch direction {
	case DirectionDoubleUp, DirectionSingleUp:
		angle = 0
	case DirectionFortyFiveUp:
		angle = 45
	case DirectionFlat:
		angle = 90
	case DirectionFortyFiveDown:
		angle = 135
	case DirectionDoubleDown, DirectionSingleDown:
		angle = 180
	default:
		return
	}

	dc.Rotate(gg.Radians(angle))

	halfSize := size / 2
	if direction == DirectionDoubleUp || direction == DirectionDoubleDown {
		drawSingleArrow(dc, 0, -halfSize/2, size*0.8)
		drawSingleArrow(dc, 0, halfSize/2, size*0.8)
	} else {
		drawSingleArrow(dc, 0, 0, size)
	}
}

func drawSingleArrow(dc *gg.Context, ox, oy, s float64) {
	w := s * 0.5

	dc.NewSubPath()
	dc.MoveTo(ox, oy-s/2)
	dc.LineTo(ox+w/2, oy)
	dc.LineTo(ox+w/6, oy)
	dc.LineTo(ox+w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy)
	dc.LineTo(ox-w/2, oy)
	dc.ClosePath()
	dc.Fill()
}

// statusColor returns the background for a glucose status
func statusColor(status *models.GlucoseStatus) string {
	if status == nil {
		return "#808080"
	}
	if status.IsStale {
		return "#9ca3af"
	}

	switch status.Status {
	case statusUrgentLow, statusUrgentHigh:
		return "#ef4444"
	case statusLow:
		return "#f97316"
	case statusHigh:
		return "#facc15"
	default:
		return "#4ade80"
	}
}

// parseHexColor parses a hex color string to RGB values
func parseHexColor(hex string) (r, g, b byte) {
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return
}
