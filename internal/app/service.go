// Package app binds the pump engine to the desktop shell and its outputs:
// tray, window events, notifications, MQTT and Nightscout upload.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/mrcode/unity-pump/internal/engine"
	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/mqtt"
	"github.com/mrcode/unity-pump/internal/nightscout"
	"github.com/mrcode/unity-pump/internal/notifications"
	"github.com/mrcode/unity-pump/internal/sim"
	"github.com/mrcode/unity-pump/internal/tray"
)

// Version is set at build time
var Version = "dev"

// Frontend event names
const (
	EventPumpUpdate    = "pump:update"
	EventGlucoseUpdate = "glucose:update"
	EventLogUpdate     = "events:new"
)

// StatusView is what the dashboard renders in one call
type StatusView struct {
	Glucose *models.GlucoseStatus `json:"glucose"`
	Pump    engine.Status         `json:"pump"`
	Unit    models.DisplayUnit    `json:"unit"`
}

// Option configures a PumpService
type Option func(*PumpService)

// WithEngineOptions passes options through to the engine, e.g. a fake clock
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *PumpService) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithPublisher forwards pump activity to MQTT
func WithPublisher(p mqtt.Publisher) Option {
	return func(s *PumpService) { s.publisher = p }
}

// WithNotifier replaces the desktop notification backend
func WithNotifier(fn notifications.NotifyFunc) Option {
	return func(s *PumpService) { s.notifier = fn }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *PumpService) { s.log = logger }
}

// WithConfigPath saves settings to path instead of the user config dir
func WithConfigPath(path string) Option {
	return func(s *PumpService) { s.configPath = path }
}

// PumpService is the Wails service exposed to the frontend
type PumpService struct {
	settings      *models.Settings
	engine        *engine.Engine
	notifyManager *notifications.Manager
	iconGen       *tray.IconGenerator
	publisher     mqtt.Publisher
	log           *slog.Logger

	nsMu     sync.Mutex
	nsClient *nightscout.Client
	uploader *nightscout.Uploader

	engineOpts []engine.Option
	notifier   notifications.NotifyFunc
	configPath string

	mu         sync.RWMutex
	lastStatus *models.GlucoseStatus
	lastPump   models.PumpState
	app        *application.App
	tray       *application.SystemTray
	emit       func(name string, data any)
	cancel     func()
	watchDone  chan struct{}
	started    bool
}

// NewPumpService creates the service and its engine. The simulation starts
// with Start, which Wails calls through ServiceStartup.
func NewPumpService(settings *models.Settings, opts ...Option) *PumpService {
	s := &PumpService{
		settings: settings,
		iconGen:  tray.NewIconGenerator(),
		log:      slog.Default(),
		lastPump: models.PumpIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.notifyManager = notifications.NewManager(settings)
	if s.notifier != nil {
		s.notifyManager.SetNotifier(s.notifier)
	}

	engineOpts := append([]engine.Option{engine.WithLogger(s.log)}, s.engineOpts...)
	s.engine = engine.New(settings, engine.ConfigFromSettings(settings), engineOpts...)
	s.initUploader()
	return s
}

// initUploader (re)creates the Nightscout client from current settings.
// An empty URL disables uploading.
func (s *PumpService) initUploader() {
	cfg := s.settings.Clone()

	s.nsMu.Lock()
	old := s.uploader
	s.nsClient, s.uploader = nil, nil
	if cfg.NightscoutURL != "" {
		s.nsClient = nightscout.NewClient(cfg.NightscoutURL, cfg.APISecret, cfg.APIToken, cfg.UseToken)
		s.uploader = nightscout.NewUploader(s.nsClient, s.log, 0)
		s.log.Info("nightscout upload enabled", "url", cfg.NightscoutURL)
	}
	s.nsMu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (s *PumpService) currentUploader() *nightscout.Uploader {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	return s.uploader
}

// ServiceStartup is called by Wails when the application starts
func (s *PumpService) ServiceStartup(_ context.Context, _ application.ServiceOptions) error {
	return s.Start()
}

// ServiceShutdown is called by Wails on exit
func (s *PumpService) ServiceShutdown() error {
	return s.Shutdown()
}

// Start subscribes to engine updates and starts the simulation
func (s *PumpService) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	updates, cancel := s.engine.Subscribe(64)
	s.cancel = cancel
	s.watchDone = make(chan struct{})
	s.mu.Unlock()

	go s.watch(updates)

	if err := s.engine.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	s.hydrateHistory()
	s.refresh()
	return nil
}

// Shutdown stops the engine and waits for the update loop to drain
func (s *PumpService) Shutdown() error {
	s.mu.Lock()
	done := s.watchDone
	s.mu.Unlock()

	err := s.engine.Close()
	if done != nil {
		<-done
	}
	if u := s.currentUploader(); u != nil {
		u.Close()
	}
	return err
}

// SetApp connects the service to the Wails application for events
func (s *PumpService) SetApp(app *application.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app = app
	if app != nil {
		s.emit = func(name string, data any) { app.Event.Emit(name, data) }
	}
}

// SetTray connects the service to the system tray
func (s *PumpService) SetTray(t *application.SystemTray) {
	s.mu.Lock()
	s.tray = t
	s.mu.Unlock()
	s.updateTray()
}

func (s *PumpService) watch(updates <-chan engine.Update) {
	defer close(s.watchDone)
	for u := range updates {
		s.handleUpdate(u)
	}
}

func (s *PumpService) handleUpdate(u engine.Update) {
	unit := s.settings.DisplayUnit()

	for _, ev := range u.Events {
		s.publish(ev)
	}

	// The update's own sample, not the live history: this goroutine may
	// run behind the engine.
	if u.Sample != nil {
		status := models.NewGlucoseStatus(*u.Sample, u.Previous, s.settings, s.engine.Now())
		s.mu.Lock()
		s.lastStatus = status
		s.mu.Unlock()

		s.iconGen.AddHistory(unit.Convert(u.Sample.Value))
		if up := s.currentUploader(); up != nil {
			up.QueueEntry(nightscout.NewEntry(*u.Sample, tray.Direction(status.Delta)))
		}
		if err := s.notifyManager.CheckAndNotify(status); err != nil {
			s.log.Warn("notification failed", "err", err)
		}
		s.emitEvent(EventGlucoseUpdate, status)
	}

	if u.Completed != nil {
		if err := s.notifyManager.NotifyDelivery(*u.Completed); err != nil {
			s.log.Warn("delivery notification failed", "err", err)
		}
		if up := s.currentUploader(); up != nil {
			up.QueueTreatment(nightscout.NewTreatment(*u.Completed))
		}
		if s.publisher != nil {
			if err := s.publisher.PublishDose(*u.Completed); err != nil {
				s.log.Warn("mqtt publish dose failed", "err", err)
			}
		}
	}

	s.trackPumpState(u.Status)

	if len(u.Events) > 0 {
		s.emitEvent(EventLogUpdate, u.Events)
	}
	s.emitEvent(EventPumpUpdate, u.Status)
	s.updateTray()
}

// trackPumpState raises the fault notification on entering the error
// state and re-arms it on leaving
func (s *PumpService) trackPumpState(st engine.Status) {
	s.mu.Lock()
	prev := s.lastPump
	s.lastPump = st.Pump
	s.mu.Unlock()

	switch {
	case st.Pump == models.PumpError && prev != models.PumpError:
		if err := s.notifyManager.NotifyFault(st.FaultReason); err != nil {
			s.log.Warn("fault notification failed", "err", err)
		}
	case st.Pump != models.PumpError && prev == models.PumpError:
		s.notifyManager.ClearFaultState()
	}
}

func (s *PumpService) publish(ev models.PumpEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ev); err != nil {
		s.log.Warn("mqtt publish failed", "kind", ev.Kind, "err", err)
	}
}

func (s *PumpService) emitEvent(name string, data any) {
	s.mu.RLock()
	emit := s.emit
	s.mu.RUnlock()
	if emit != nil {
		emit(name, data)
	}
}

// computeStatus derives the display status from the latest two samples
func (s *PumpService) computeStatus() *models.GlucoseStatus {
	history := s.engine.History()
	if len(history) == 0 {
		return nil
	}
	latest := history[len(history)-1]
	var prev *models.GlucoseSample
	if len(history) > 1 {
		prev = &history[len(history)-2]
	}
	status := models.NewGlucoseStatus(latest, prev, s.settings, s.engine.Now())

	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()
	return status
}

// hydrateHistory fills the tray sparkline from the engine history
func (s *PumpService) hydrateHistory() {
	unit := s.settings.DisplayUnit()
	history := s.engine.History()
	if len(history) > 24 {
		history = history[len(history)-24:]
	}

	s.iconGen.ClearHistory()
	for _, sample := range history {
		s.iconGen.AddHistory(unit.Convert(sample.Value))
	}
}

// refresh recomputes the status and pushes it to the tray and frontend
func (s *PumpService) refresh() {
	if status := s.computeStatus(); status != nil {
		s.emitEvent(EventGlucoseUpdate, status)
	}
	s.emitEvent(EventPumpUpdate, s.engine.Status())
	s.updateTray()
}

func (s *PumpService) updateTray() {
	s.mu.RLock()
	t := s.tray
	status := s.lastStatus
	s.mu.RUnlock()

	if t == nil {
		return
	}

	unit := s.settings.DisplayUnit()
	pump := s.engine.Status().Pump

	t.SetLabel(tray.Label(status, unit, pump))
	t.SetTooltip(s.iconGen.Tooltip(status, unit, pump))
	if icon := s.iconGen.Render(status, unit, pump); icon != nil {
		t.SetIcon(icon)
	}
}

// Public methods for Binding

// SubmitCarbs commands a meal bolus
func (s *PumpService) SubmitCarbs(grams int) (models.DoseRecord, error) {
	return s.engine.SubmitCarbs(grams)
}

// SubmitCarbsText parses the carb field as typed, e.g. "45" or "45 g"
func (s *PumpService) SubmitCarbsText(text string) (models.DoseRecord, error) {
	grams, err := sim.ParseCarbs(text)
	if err != nil {
		return models.DoseRecord{}, err
	}
	return s.engine.SubmitCarbs(grams)
}

// GetStatus returns glucose and pump state together
func (s *PumpService) GetStatus() *StatusView {
	return &StatusView{
		Glucose: s.computeStatus(),
		Pump:    s.engine.Status(),
		Unit:    s.settings.DisplayUnit(),
	}
}

// GetCurrentStatus returns the last computed glucose status
func (s *PumpService) GetCurrentStatus() *models.GlucoseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStatus
}

// GetChartData returns the trailing window of readings. minutes <= 0 uses
// the configured chart window.
func (s *PumpService) GetChartData(minutes int) (*models.ChartData, error) {
	if minutes <= 0 {
		minutes = s.settings.Clone().ChartWindowMinutes
	}
	if minutes <= 0 {
		return nil, fmt.Errorf("chart window %d minutes: %w", minutes, models.ErrInvalidInput)
	}

	cutoff := s.engine.Now().Add(-time.Duration(minutes) * time.Minute)
	return models.NewChartData(s.engine.HistorySince(cutoff), s.settings, minutes), nil
}

// GetEvents returns recent events, newest first. limit <= 0 uses the
// configured display limit.
func (s *PumpService) GetEvents(limit int) []models.PumpEvent {
	if limit <= 0 {
		limit = s.settings.Clone().EventDisplayLimit
	}
	return s.engine.Events(limit)
}

// GetSettings returns a copy of the settings
func (s *PumpService) GetSettings() *models.Settings {
	return s.settings.Clone()
}

// SaveSettings validates, applies and persists settings. Dosing changes
// apply to the next submission; simulation timing applies on restart.
func (s *PumpService) SaveSettings(settings *models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	unitChanged := settings.DisplayUnit() != s.settings.DisplayUnit()
	nsChanged := s.settings.NightscoutChanged(settings)
	s.settings.Update(settings)

	var err error
	if s.configPath != "" {
		err = s.settings.SaveTo(s.configPath)
	} else {
		err = s.settings.Save()
	}
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.notifyManager.UpdateSettings(s.settings)
	if nsChanged {
		s.initUploader()
	}
	if unitChanged {
		s.hydrateHistory()
	}
	s.refresh()
	s.log.Info("settings saved", "ratio", settings.Dosing.InsulinToCarbRatio, "unit", settings.Unit)
	return nil
}

// InjectFault puts the simulated pump into the error state
func (s *PumpService) InjectFault(reason string) error {
	if reason == "" {
		reason = "simulated fault"
	}
	return s.engine.InjectFault(reason)
}

// ClearFault returns the pump from the error state
func (s *PumpService) ClearFault() error {
	return s.engine.ClearFault()
}

// SetPumpConnected simulates the pump link going up or down
func (s *PumpService) SetPumpConnected(connected bool) error {
	return s.engine.SetConnected(connected)
}

// StartSimulation resumes glucose readings
func (s *PumpService) StartSimulation() error {
	return s.engine.Start()
}

// StopSimulation pauses glucose readings
func (s *PumpService) StopSimulation() error {
	return s.engine.Stop()
}

// SendTestNotification sends a test notification
func (s *PumpService) SendTestNotification() error {
	return s.notifyManager.SendTestNotification()
}

// TestNightscoutConnection checks the configured Nightscout site
func (s *PumpService) TestNightscoutConnection() error {
	s.nsMu.Lock()
	client := s.nsClient
	s.nsMu.Unlock()

	if client == nil {
		return fmt.Errorf("nightscout URL not configured: %w", models.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.TestConnection(ctx)
}

// GetUploadStats returns Nightscout upload counters, zero when disabled
func (s *PumpService) GetUploadStats() nightscout.Stats {
	if u := s.currentUploader(); u != nil {
		return u.Stats()
	}
	return nightscout.Stats{}
}

// GetVersion returns the application version
func (s *PumpService) GetVersion() string {
	return Version
}
