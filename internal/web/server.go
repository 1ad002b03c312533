// Package web provides an HTTP status server and carb entry endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mrcode/unity-pump/internal/engine"
	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/sim"
)

// maxWindowMinutes bounds the history.json window to one week
const maxWindowMinutes = 7 * 24 * 60

// Engine is the part of the pump engine the server reads and drives.
type Engine interface {
	Status() engine.Status
	History() []models.GlucoseSample
	HistorySince(cutoff time.Time) []models.GlucoseSample
	Events(limit int) []models.PumpEvent
	SubmitCarbs(grams int) (models.DoseRecord, error)
	Now() time.Time
}

// MQTTStatus reports the broker connection, nil when publishing is disabled.
type MQTTStatus interface {
	IsConnected() bool
}

// Server serves pump state over HTTP.
type Server struct {
	httpServer *http.Server
	engine     Engine
	settings   *models.Settings
	mqtt       MQTTStatus
	started    time.Time
	log        *slog.Logger
}

// New creates a Server for the given engine.
func New(addr string, eng Engine, settings *models.Settings, mqtt MQTTStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   eng,
		settings: settings,
		mqtt:     mqtt,
		started:  eng.Now(),
		log:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /history.json", s.handleHistory)
	mux.HandleFunc("GET /events.json", s.handleEvents)
	mux.HandleFunc("POST /carbs", s.handleCarbs)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.snapshot()); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formatStatus(s.snapshot()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window := s.settings.Clone().ChartWindowMinutes
	if v := r.URL.Query().Get("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 || m > maxWindowMinutes {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("minutes must be between 1 and %d", maxWindowMinutes))
			return
		}
		window = m
	}

	settings := s.settings
	if u := r.URL.Query().Get("unit"); u != "" {
		unit := models.DisplayUnit(u)
		if !unit.Valid() {
			writeError(w, http.StatusBadRequest, "unit must be mg/dL or mmol/L")
			return
		}
		settings = settings.Clone()
		settings.Unit = unit
	}

	cutoff := s.engine.Now().Add(-time.Duration(window) * time.Minute)
	samples := s.engine.HistorySince(cutoff)
	writeJSON(w, http.StatusOK, models.NewChartData(samples, settings, window))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := s.settings.Clone().EventDisplayLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, formatEvents(s.engine.Events(limit)))
}

// CarbsRequest is the body of POST /carbs. Carbs is text as typed by the
// user, e.g. "45" or "45g".
type CarbsRequest struct {
	Carbs string `json:"carbs"`
}

func (s *Server) handleCarbs(w http.ResponseWriter, r *http.Request) {
	var req CarbsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	grams, err := sim.ParseCarbs(req.Carbs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dose, err := s.engine.SubmitCarbs(grams)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	s.log.Info("carbs submitted over http", "carbs", grams, "units", dose.Units)
	writeJSON(w, http.StatusAccepted, formatDose(dose))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPumpFault):
		return http.StatusConflict
	case errors.Is(err, models.ErrDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) snapshot() snapshot {
	snap := snapshot{
		Status:   s.engine.Status(),
		Now:      s.engine.Now(),
		Started:  s.started,
		Settings: s.settings.Clone(),
		Unit:     s.settings.DisplayUnit(),
		Events:   s.engine.Events(s.settings.Clone().EventDisplayLimit),
	}
	if s.mqtt != nil {
		snap.MQTTEnabled = true
		snap.MQTTConnected = s.mqtt.IsConnected()
	}

	history := s.engine.History()
	if n := len(history); n > 0 {
		var prev *models.GlucoseSample
		if n > 1 {
			prev = &history[n-2]
		}
		snap.Glucose = models.NewGlucoseStatus(history[n-1], prev, s.settings, snap.Now)
	}
	return snap
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ErrorJSON is the body of every non-2xx response.
type ErrorJSON struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorJSON{Error: msg})
}
