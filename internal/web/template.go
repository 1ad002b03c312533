package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/mrcode/unity-pump/internal/models"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"clock": func(t time.Time) string {
		return t.Local().Format("15:04:05")
	},
	"reading": func(g *models.GlucoseStatus, unit models.DisplayUnit) string {
		if unit == models.UnitMmol {
			return fmt.Sprintf("%.1f %s", g.ValueMmol, unit)
		}
		return fmt.Sprintf("%d %s", g.Value, unit)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Unity Pump</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.normal { color: green; font-weight: bold; }
.low, .high { color: orange; font-weight: bold; }
.urgent_low, .urgent_high, .error { color: red; font-weight: bold; }
.idle { color: #888; }
.delivering { color: #3b82f6; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Unity Pump</h1>

<h2>Glucose</h2>
<table>
{{if .Glucose}}<tr><th>Reading</th><td class="{{.Glucose.Status}}">{{reading .Glucose .Unit}}</td></tr>
<tr><th>Delta</th><td>{{printf "%+.0f" .Glucose.Delta}} mg/dL</td></tr>
<tr><th>Updated</th><td>{{clock .Glucose.Time}}{{if .Glucose.IsStale}} (stale){{end}}</td></tr>
{{else}}<tr><th>Reading</th><td>---</td></tr>{{end}}
</table>

<h2>Pump</h2>
<table>
<tr><th>State</th><td class="{{.Status.Pump}}">{{.Status.Pump.Label}}{{if .Status.FaultReason}}: {{.Status.FaultReason}}{{end}}</td></tr>
<tr><th>Last command</th><td>{{if .Status.LastCommand}}{{.Status.LastCommand}}{{else}}none{{end}}</td></tr>
<tr><th>In flight</th><td>{{.Status.InFlight}}</td></tr>
<tr><th>Link</th><td class="{{if .Status.Connected}}connected{{else}}disconnected{{end}}">{{if .Status.Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Ratio</th><td>1 U : {{.Settings.Dosing.InsulinToCarbRatio}} g</td></tr>
</table>

<h2>Events</h2>
<table>
{{range .Events}}<tr><th>{{clock .Time}}</th><td>{{.Message}}</td></tr>
{{else}}<tr><td>No events yet</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Simulation</th><td>{{if .Status.Running}}running{{else}}stopped{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
{{if .MQTTEnabled}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}} ({{.Settings.MQTTBroker}})</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a> · <a href="/events.json">Events</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap snapshot) error {
	return indexTmpl.Execute(w, snap)
}
