// Package engine owns the pump simulation state.
//
// Every mutation runs on one goroutine, the engine loop. Public operations
// post a closure to the loop and wait for it; timer callbacks (the periodic
// glucose tick and delivery completions) only post work to the loop. Readers
// get copies through accessors guarded by an RWMutex that the loop holds
// while it mutates.
package engine

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/sim"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("engine closed")

// DosingSource supplies the dosing parameters at submission time.
// *models.Settings implements it.
type DosingSource interface {
	DosingSettings() models.DosingSettings
}

// Status is a point-in-time copy of the engine's published state
type Status struct {
	Glucose     float64            `json:"glucose"` // mg/dL
	LastUpdate  time.Time          `json:"lastUpdate"`
	Pump        models.PumpState   `json:"pump"`
	FaultReason string             `json:"faultReason,omitempty"`
	LastDose    *models.DoseRecord `json:"lastDose,omitempty"`
	LastCommand string             `json:"lastCommand"`
	Connected   bool               `json:"connected"`
	Running     bool               `json:"running"`
	InFlight    int                `json:"inFlight"` // deliveries awaiting completion
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock, e.g. with a fake clock in tests
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithRand sets the random source of the glucose generator
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

type delivery struct {
	dose  models.DoseRecord
	timer clockwork.Timer
}

// Engine is the simulation-and-dosing state engine
type Engine struct {
	cfg    Config
	dosing DosingSource
	clock  clockwork.Clock
	log    *slog.Logger
	rng    *rand.Rand

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Written only on the loop goroutine, under mu.
	mu          sync.RWMutex
	gen         *sim.Generator
	history     *sim.HistoryBuffer
	events      *sim.EventLog
	state       models.PumpState
	faultReason string
	glucose     float64
	lastUpdate  time.Time
	lastDose    *models.DoseRecord
	lastCommand string
	connected   bool
	running     bool
	inflight    map[uuid.UUID]*delivery

	// Loop-only.
	tickTimer clockwork.Timer
	tickGen   uint64
	pending   []models.PumpEvent
	completed *models.DoseRecord
	sample    *models.GlucoseSample
	prev      *models.GlucoseSample

	subsMu     sync.Mutex
	subs       map[int]chan Update
	nextSub    int
	subsClosed bool
}

// New creates an engine and starts its loop. The simulation itself does
// not run until Start is called. Close releases the loop.
func New(dosing DosingSource, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		dosing:    dosing,
		clock:     clockwork.NewRealClock(),
		log:       slog.Default(),
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		state:     models.PumpIdle,
		connected: true,
		inflight:  make(map[uuid.UUID]*delivery),
		subs:      make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.gen = sim.NewGenerator(e.cfg.Generator, e.rng)
	e.glucose = e.gen.Current()
	e.history = sim.NewHistoryBuffer(e.cfg.HistoryCapacity)
	e.events = sim.NewEventLog()

	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case op := <-e.ops:
			op()
		case <-e.done:
			return
		}
	}
}

// do runs fn on the loop and waits for it to finish
func (e *Engine) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case e.ops <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-e.stopped:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting. Used from timer callbacks.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// mutate runs fn under the write lock, then publishes the events it recorded
func (e *Engine) mutate(fn func(now time.Time)) {
	e.mu.Lock()
	fn(e.clock.Now())
	u := Update{
		Events:    e.pending,
		Completed: e.completed,
		Status:    e.statusLocked(),
		Sample:    e.sample,
		Previous:  e.prev,
	}
	e.pending = nil
	e.completed = nil
	e.sample, e.prev = nil, nil
	e.mu.Unlock()

	e.broadcast(u)
}

// record appends to the event log. Caller holds mu.
func (e *Engine) record(kind models.EventKind, message string, now time.Time) {
	ev := e.events.Record(kind, message, now)
	e.pending = append(e.pending, ev)
	e.log.Debug("event recorded", "kind", kind, "message", message)
}

// Start begins the simulation. On first start with an empty history it
// backfills the preceding hour. Calling Start while running replaces the
// tick schedule rather than adding a second one.
func (e *Engine) Start() error {
	return e.do(func() {
		e.mutate(func(now time.Time) {
			if e.history.Len() == 0 {
				e.seed(now)
			}
			e.scheduleTick()
			e.running = true
		})
		e.log.Info("simulation started", "tick", e.cfg.TickInterval, "samples", e.history.Len())
	})
}

// Stop cancels the periodic tick. Deliveries already commanded still complete.
func (e *Engine) Stop() error {
	return e.do(func() {
		e.mutate(func(time.Time) {
			e.cancelTick()
			e.running = false
		})
		e.log.Info("simulation stopped")
	})
}

// Close stops the loop and all timers. The engine cannot be restarted.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		<-e.stopped

		e.mu.Lock()
		e.cancelTick()
		e.running = false
		for _, d := range e.inflight {
			d.timer.Stop()
		}
		e.mu.Unlock()

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsClosed = true
		e.subsMu.Unlock()
	})
	return nil
}

func (e *Engine) statusLocked() Status {
	s := Status{
		Glucose:     e.glucose,
		LastUpdate:  e.lastUpdate,
		Pump:        e.state,
		FaultReason: e.faultReason,
		LastCommand: e.lastCommand,
		Connected:   e.connected,
		Running:     e.running,
		InFlight:    len(e.inflight),
	}
	if e.lastDose != nil {
		dose := *e.lastDose
		s.LastDose = &dose
	}
	return s
}

// Status returns the current published state
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

// History returns all retained samples, oldest first
func (e *Engine) History() []models.GlucoseSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Snapshot()
}

// HistorySince returns the samples at or after cutoff, oldest first
func (e *Engine) HistorySince(cutoff time.Time) []models.GlucoseSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.FilterSince(cutoff)
}

// Events returns up to limit events, newest first. limit <= 0 returns all.
func (e *Engine) Events(limit int) []models.PumpEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events.Recent(limit)
}

// Now returns the engine clock's current time
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}
