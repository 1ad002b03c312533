package web

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mrcode/unity-pump/internal/engine"
	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/mqtt"
)

type testEnv struct {
	ts       *httptest.Server
	engine   *engine.Engine
	clock    *clockwork.FakeClock
	settings *models.Settings
	mqtt     *mqtt.FakePublisher
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	settings := models.DefaultSettings()
	settings.MQTTBroker = "tcp://192.168.1.200:1883"

	eng := engine.New(settings, engine.ConfigFromSettings(settings),
		engine.WithClock(clock),
		engine.WithRand(rand.New(rand.NewPCG(7, 7))),
	)
	t.Cleanup(func() { _ = eng.Close() })
	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	srv := New(":0", eng, settings, pub, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, engine: eng, clock: clock, settings: settings, mqtt: pub}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode JSON: %v", err)
		}
	}
	return resp
}

func postCarbs(t *testing.T, env *testEnv, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(env.ts.URL+"/carbs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /carbs: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestServer(t)

	var sj StatusJSON
	resp := getJSON(t, env.ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	if sj.Status.Glucose == nil {
		t.Fatal("expected glucose reading after start")
	}
	history := env.engine.History()
	latest, prev := history[len(history)-1], history[len(history)-2]
	if sj.Status.Glucose.MgDL != latest.ValueMgDL() {
		t.Errorf("Glucose.MgDL: got %d, want %d", sj.Status.Glucose.MgDL, latest.ValueMgDL())
	}
	if want := latest.Value - prev.Value; sj.Status.Glucose.Delta != want {
		t.Errorf("Glucose.Delta: got %v, want %v", sj.Status.Glucose.Delta, want)
	}
	if sj.Status.Glucose.Unit != "mg/dL" {
		t.Errorf("Glucose.Unit: got %q", sj.Status.Glucose.Unit)
	}
	if sj.Status.Pump.State != "idle" {
		t.Errorf("Pump.State: got %q, want idle", sj.Status.Pump.State)
	}
	if !sj.Status.Running {
		t.Error("expected Running=true")
	}
	if !sj.Status.Pump.Connected {
		t.Error("expected Pump.Connected=true")
	}
	if sj.Status.Dosing.InsulinToCarbRatio != 10 {
		t.Errorf("Dosing ratio: got %v, want 10", sj.Status.Dosing.InsulinToCarbRatio)
	}
	if sj.Status.MQTT == nil || !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected")
	} else if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.Timestamp != "2026-01-01T12:00:00Z" {
		t.Errorf("Timestamp: got %q", sj.Status.Timestamp)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name        string
		query       string
		wantEntries int
		wantUnit    models.DisplayUnit
	}{
		{"default window", "", 13, models.UnitMgdl},
		{"half hour", "?minutes=30", 7, models.UnitMgdl},
		{"mmol", "?unit=mmol/L", 13, models.UnitMmol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cd models.ChartData
			resp := getJSON(t, env.ts.URL+"/history.json"+tt.query, &cd)
			if resp.StatusCode != 200 {
				t.Fatalf("status: got %d, want 200", resp.StatusCode)
			}
			if len(cd.Entries) != tt.wantEntries {
				t.Errorf("entries: got %d, want %d", len(cd.Entries), tt.wantEntries)
			}
			if cd.Unit != tt.wantUnit {
				t.Errorf("unit: got %q, want %q", cd.Unit, tt.wantUnit)
			}
			for i := 1; i < len(cd.Entries); i++ {
				if cd.Entries[i].Time <= cd.Entries[i-1].Time {
					t.Fatal("entries not oldest first")
				}
			}
			if tt.wantUnit == models.UnitMmol {
				e := cd.Entries[0]
				if diff := e.Value - e.ValueMg/18; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("mmol value %v does not match %v mg/dL", e.Value, e.ValueMg)
				}
				if cd.TargetHigh != 10 {
					t.Errorf("TargetHigh: got %v, want 10", cd.TargetHigh)
				}
			}
		})
	}
}

func TestHistoryEndpointBadQuery(t *testing.T) {
	env := newTestServer(t)

	for _, q := range []string{
		"?minutes=0",
		"?minutes=abc",
		"?unit=kg",
		"?minutes=10081",
		"?minutes=153722867280912930",
	} {
		resp := getJSON(t, env.ts.URL+"/history.json"+q, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestHistoryEndpointLongestWindow(t *testing.T) {
	env := newTestServer(t)

	var cd models.ChartData
	resp := getJSON(t, env.ts.URL+"/history.json?minutes=10080", &cd)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if got, want := len(cd.Entries), len(env.engine.History()); got != want {
		t.Errorf("entries: got %d, want %d", got, want)
	}
}

func TestCarbsEndpoint(t *testing.T) {
	env := newTestServer(t)

	resp, body := postCarbs(t, env, `{"carbs":" 45g "}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (%s)", resp.StatusCode, body)
	}

	var dose DoseJSON
	if err := json.Unmarshal(body, &dose); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dose.Units != 4.5 || dose.Carbs != 45 {
		t.Errorf("dose: %+v", dose)
	}
	if dose.CompletedAt != "" {
		t.Error("dose should not be complete yet")
	}

	if env.engine.Status().Pump != models.PumpDelivering {
		t.Errorf("pump: got %s, want delivering", env.engine.Status().Pump)
	}

	var ev EventsJSON
	getJSON(t, env.ts.URL+"/events.json", &ev)
	if len(ev.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(ev.Events))
	}
	if ev.Events[0].Message != "Commanded dose: 4.5 U" || ev.Events[1].Message != "Carbs submitted: 45 g" {
		t.Errorf("events not newest first: %+v", ev.Events)
	}

	getJSON(t, env.ts.URL+"/events.json?limit=1", &ev)
	if len(ev.Events) != 1 {
		t.Errorf("limit=1: got %d events", len(ev.Events))
	}
}

func TestCarbsEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(env *testEnv)
		body   string
		status int
	}{
		{"not json", nil, `carbs=45`, http.StatusBadRequest},
		{"non-numeric", nil, `{"carbs":"lots"}`, http.StatusBadRequest},
		{"empty", nil, `{"carbs":""}`, http.StatusBadRequest},
		{"negative", nil, `{"carbs":"-5"}`, http.StatusBadRequest},
		{"pump fault", func(env *testEnv) { _ = env.engine.InjectFault("occlusion") }, `{"carbs":"30"}`, http.StatusConflict},
		{"bad ratio", func(env *testEnv) {
			bad := env.settings.Clone()
			bad.Dosing.InsulinToCarbRatio = 0
			env.settings.Update(bad)
		}, `{"carbs":"30"}`, http.StatusUnprocessableEntity},
		{"closed", func(env *testEnv) { _ = env.engine.Close() }, `{"carbs":"30"}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			before := len(env.engine.Events(0))

			resp, body := postCarbs(t, env, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status: got %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}

			var ej ErrorJSON
			if err := json.Unmarshal(body, &ej); err != nil || ej.Error == "" {
				t.Errorf("expected error body, got %s", body)
			}
			if got := len(env.engine.Events(0)); got != before {
				t.Errorf("rejected submission recorded %d events", got-before)
			}
		})
	}
}

func TestEventsEndpointBadLimit(t *testing.T) {
	env := newTestServer(t)

	resp := getJSON(t, env.ts.URL+"/events.json?limit=-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	env := newTestServer(t)
	_ = env.engine.InjectFault("occlusion")

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		for _, want := range []string{"Unity Pump", "Error: occlusion", "Pump fault: occlusion", "mg/dL"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("%s: body missing %q", path, want)
			}
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestServer(t)

	resp := getJSON(t, env.ts.URL+"/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)

	resp := getJSON(t, env.ts.URL+"/carbs", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	env := newTestServer(t)

	var before StatusJSON
	getJSON(t, env.ts.URL+"/index.json", &before)

	env.clock.Advance(5 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for len(env.engine.Events(0)) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	var after StatusJSON
	getJSON(t, env.ts.URL+"/index.json", &after)
	if after.Status.Glucose.Timestamp != "2026-01-01T12:00:05Z" {
		t.Errorf("glucose timestamp: got %q", after.Status.Glucose.Timestamp)
	}
	if after.Status.UptimeSeconds != 5 {
		t.Errorf("uptime: got %d, want 5", after.Status.UptimeSeconds)
	}

	env.mqtt.SetConnected(false)
	getJSON(t, env.ts.URL+"/index.json", &after)
	if after.Status.MQTT.Connected {
		t.Error("expected MQTT disconnected")
	}
}
