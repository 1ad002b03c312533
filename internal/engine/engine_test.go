package engine

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/unity-pump/internal/models"
)

var testStart = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

const (
	waitFor   = 2 * time.Second
	pollEvery = 2 * time.Millisecond
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *clockwork.FakeClock, *models.Settings) {
	t.Helper()
	settings := models.DefaultSettings()
	clock := clockwork.NewFakeClockAt(testStart)
	e := New(settings, cfg,
		WithClock(clock),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	t.Cleanup(func() { _ = e.Close() })
	return e, clock, settings
}

func countEvents(e *Engine, kind models.EventKind, prefix string) int {
	n := 0
	for _, ev := range e.Events(0) {
		if ev.Kind == kind && strings.HasPrefix(ev.Message, prefix) {
			n++
		}
	}
	return n
}

func TestEngine_StartSeedsHistory(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	require.NoError(t, e.Start())

	history := e.History()
	require.Len(t, history, 13)
	assert.Equal(t, testStart.Add(-60*time.Minute), history[0].Time)
	assert.Equal(t, testStart, history[len(history)-1].Time)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, 5*time.Minute, history[i].Time.Sub(history[i-1].Time))
	}

	status := e.Status()
	assert.True(t, status.Running)
	assert.Equal(t, history[len(history)-1].Value, status.Glucose)
	assert.Equal(t, testStart, status.LastUpdate)
	assert.Equal(t, models.PumpIdle, status.Pump)
	assert.Empty(t, e.Events(0), "seeding records no events")
}

func TestEngine_StartDoesNotReseed(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	require.NoError(t, e.Start())
	first := e.History()

	require.NoError(t, e.Stop())
	require.NoError(t, e.Start())
	require.NoError(t, e.Start())

	assert.Equal(t, first, e.History())
}

func TestEngine_TickAppendsAndRecords(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())

	for i := 1; i <= 3; i++ {
		clock.Advance(5 * time.Second)
		require.Eventually(t, func() bool { return len(e.Events(0)) == i }, waitFor, pollEvery)
	}

	history := e.History()
	require.Len(t, history, 16)
	latest := history[len(history)-1]
	assert.Equal(t, testStart.Add(15*time.Second), latest.Time)

	events := e.Events(0)
	assert.Equal(t, models.EventGlucose, events[0].Kind)
	assert.Equal(t, "Glucose received: "+strconv.Itoa(latest.ValueMgDL())+" mg/dL", events[0].Message)
	assert.Equal(t, latest.Value, e.Status().Glucose)

	for _, s := range history {
		assert.True(t, s.Value >= 60 && s.Value <= 250)
	}
}

func TestEngine_TickUpdateCarriesSample(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	updates, cancel := e.Subscribe(8)
	defer cancel()
	require.NoError(t, e.Start())

	start := <-updates
	assert.Nil(t, start.Sample, "start carries no tick sample")

	var ticks []Update
	for i := 1; i <= 2; i++ {
		clock.Advance(5 * time.Second)
		select {
		case u := <-updates:
			ticks = append(ticks, u)
		case <-time.After(waitFor):
			t.Fatalf("no update for tick %d", i)
		}
	}

	history := e.History()
	require.Len(t, history, 15)
	for i, u := range ticks {
		require.NotNil(t, u.Sample)
		require.NotNil(t, u.Previous)
		assert.Equal(t, history[13+i], *u.Sample)
		assert.Equal(t, history[12+i], *u.Previous)
	}
	assert.NotEqual(t, ticks[0].Sample.Time, ticks[1].Sample.Time)
}

func TestEngine_RestartReplacesTick(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	require.NoError(t, e.Start())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return len(e.Events(0)) == 1 }, waitFor, pollEvery)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, e.Events(0), 1, "only one tick stream may run")
}

func TestEngine_StopHaltsTicks(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return len(e.Events(0)) == 1 }, waitFor, pollEvery)

	require.NoError(t, e.Stop())
	assert.False(t, e.Status().Running)

	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, e.Events(0), 1)
}

func TestEngine_HistoryCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 15
	e, clock, _ := newTestEngine(t, cfg)
	require.NoError(t, e.Start())
	seeded := e.History()

	for i := 1; i <= 5; i++ {
		clock.Advance(5 * time.Second)
		require.Eventually(t, func() bool { return len(e.Events(0)) == i }, waitFor, pollEvery)
	}

	history := e.History()
	require.Len(t, history, 15)
	// 13 seeded + 5 ticks: the three oldest seeded samples are gone
	assert.Equal(t, seeded[3:], history[:10])
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Time.After(history[i-1].Time))
	}
}

func TestEngine_SubmitCarbs(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	updates, cancel := e.Subscribe(16)
	defer cancel()

	rec, err := e.SubmitCarbs(45)
	require.NoError(t, err)
	assert.Equal(t, 45, rec.Carbs)
	assert.InDelta(t, 4.5, rec.Units, 1e-9)
	assert.Equal(t, models.TreatmentEventTypes.MealBolus, rec.Type)
	assert.Equal(t, testStart, rec.CommandedAt)
	assert.False(t, rec.Delivered())

	status := e.Status()
	assert.Equal(t, models.PumpDelivering, status.Pump)
	assert.Equal(t, 1, status.InFlight)
	require.NotNil(t, status.LastDose)
	assert.Equal(t, rec.SubmissionID, status.LastDose.SubmissionID)
	assert.Contains(t, status.LastCommand, "4.5 U")

	events := e.Events(0)
	require.Len(t, events, 2)
	assert.Equal(t, "Commanded dose: 4.5 U", events[0].Message)
	assert.Equal(t, models.EventDose, events[0].Kind)
	assert.Equal(t, "Carbs submitted: 45 g", events[1].Message)
	assert.Equal(t, models.EventCarbs, events[1].Kind)

	u := <-updates
	require.Len(t, u.Events, 2)
	assert.Equal(t, models.EventCarbs, u.Events[0].Kind)
	assert.Nil(t, u.Completed)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)

	events = e.Events(0)
	require.Len(t, events, 3)
	assert.Equal(t, "Delivery complete: 4.5 U", events[0].Message)
	assert.Equal(t, testStart.Add(2*time.Second), events[0].Time, "completion carries its own timestamp")
	assert.Equal(t, 1, countEvents(e, models.EventDose, "Delivery complete"))

	status = e.Status()
	assert.Equal(t, 0, status.InFlight)
	require.NotNil(t, status.LastDose)
	assert.Equal(t, testStart.Add(2*time.Second), status.LastDose.CompletedAt)

	u = <-updates
	require.NotNil(t, u.Completed)
	assert.Equal(t, rec.SubmissionID, u.Completed.SubmissionID)
	assert.Equal(t, models.PumpIdle, u.Status.Pump)
}

func TestEngine_SubmitZeroCarbs(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())

	rec, err := e.SubmitCarbs(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Units)
	assert.Equal(t, models.PumpDelivering, e.Status().Pump)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)
	assert.Equal(t, "Delivery complete: 0.0 U", e.Events(1)[0].Message)
}

func TestEngine_SubmitCarbsRejected(t *testing.T) {
	t.Run("negative grams", func(t *testing.T) {
		e, _, _ := newTestEngine(t, DefaultConfig())

		_, err := e.SubmitCarbs(-5)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Empty(t, e.Events(0))
		assert.Equal(t, models.PumpIdle, e.Status().Pump)
		assert.Nil(t, e.Status().LastDose)
	})

	t.Run("non-positive ratio", func(t *testing.T) {
		e, _, settings := newTestEngine(t, DefaultConfig())
		settings.Dosing.InsulinToCarbRatio = 0

		_, err := e.SubmitCarbs(30)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrDomain))
		var domainErr *models.DomainError
		assert.ErrorAs(t, err, &domainErr)
		assert.Empty(t, e.Events(0))
		assert.Equal(t, models.PumpIdle, e.Status().Pump)
	})
}

func TestEngine_RatioReadAtSubmission(t *testing.T) {
	e, _, settings := newTestEngine(t, DefaultConfig())

	rec, err := e.SubmitCarbs(60)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, rec.Units, 1e-9)

	update := settings.Clone()
	update.Dosing.InsulinToCarbRatio = 15
	settings.Update(update)

	rec, err = e.SubmitCarbs(60)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, rec.Units, 1e-9)
}

func TestEngine_OverlappingSubmissionsCompleteIndependently(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())

	_, err := e.SubmitCarbs(10)
	require.NoError(t, err)

	clock.Advance(1 * time.Second)
	_, err = e.SubmitCarbs(20)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Status().InFlight)

	clock.Advance(1 * time.Second)
	require.Eventually(t, func() bool { return e.Status().InFlight == 1 }, waitFor, pollEvery)
	assert.Equal(t, models.PumpDelivering, e.Status().Pump, "still delivering the second bolus")
	assert.Equal(t, "Delivery complete: 1.0 U", e.Events(1)[0].Message)

	clock.Advance(1 * time.Second)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)
	assert.Equal(t, "Delivery complete: 2.0 U", e.Events(1)[0].Message)
	assert.Equal(t, 2, countEvents(e, models.EventDose, "Delivery complete"))
}

func TestEngine_DeliveryCompletesAfterStop(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())

	_, err := e.SubmitCarbs(30)
	require.NoError(t, err)
	require.NoError(t, e.Stop())

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)
	assert.Equal(t, 1, countEvents(e, models.EventDose, "Delivery complete"))
	assert.Zero(t, countEvents(e, models.EventGlucose, ""))
}

func TestEngine_FaultInjection(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())

	_, err := e.SubmitCarbs(20)
	require.NoError(t, err)

	require.NoError(t, e.InjectFault("occlusion"))
	status := e.Status()
	assert.Equal(t, models.PumpError, status.Pump)
	assert.Equal(t, "occlusion", status.FaultReason)
	assert.Equal(t, "Pump fault: occlusion", e.Events(1)[0].Message)

	before := len(e.Events(0))
	_, err = e.SubmitCarbs(10)
	assert.ErrorIs(t, err, models.ErrPumpFault)
	assert.Len(t, e.Events(0), before)

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return e.Status().InFlight == 0 }, waitFor, pollEvery)
	assert.Equal(t, models.PumpError, e.Status().Pump, "completion does not clear a fault")
	assert.Equal(t, 1, countEvents(e, models.EventDose, "Delivery complete"))

	require.NoError(t, e.ClearFault())
	assert.Equal(t, models.PumpIdle, e.Status().Pump)
	assert.Empty(t, e.Status().FaultReason)
	assert.Equal(t, "Pump fault cleared", e.Events(1)[0].Message)

	before = len(e.Events(0))
	require.NoError(t, e.ClearFault())
	assert.Len(t, e.Events(0), before, "clearing a healthy pump is a no-op")
}

func TestEngine_ClearFaultWhileDelivering(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())

	_, err := e.SubmitCarbs(20)
	require.NoError(t, err)
	require.NoError(t, e.InjectFault("low battery"))
	require.NoError(t, e.ClearFault())

	assert.Equal(t, models.PumpDelivering, e.Status().Pump)
}

func TestEngine_SetConnected(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	assert.True(t, e.Status().Connected)

	require.NoError(t, e.SetConnected(true))
	assert.Empty(t, e.Events(0))

	require.NoError(t, e.SetConnected(false))
	require.NoError(t, e.SetConnected(false))
	require.NoError(t, e.SetConnected(true))

	events := e.Events(0)
	require.Len(t, events, 2)
	assert.Equal(t, "Pump connected", events[0].Message)
	assert.Equal(t, "Pump disconnected", events[1].Message)
	assert.Equal(t, models.EventConnection, events[0].Kind)
}

func TestEngine_EventsNewestFirst(t *testing.T) {
	e, clock, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())

	_, err := e.SubmitCarbs(15)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return countEvents(e, models.EventGlucose, "") == 1 }, waitFor, pollEvery)
	require.NoError(t, e.SetConnected(false))

	events := e.Events(0)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Time.After(events[i-1].Time), "event %d newer than %d", i, i-1)
	}
	assert.Equal(t, "Pump disconnected", events[0].Message)
	assert.Equal(t, "Carbs submitted: 15 g", events[len(events)-1].Message)

	assert.Len(t, e.Events(2), 2)
}

func TestEngine_HistorySince(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())

	got := e.HistorySince(testStart.Add(-30 * time.Minute))
	require.Len(t, got, 7)
	assert.Equal(t, testStart.Add(-30*time.Minute), got[0].Time)

	history := e.History()
	assert.Equal(t, testStart.Add(-5*time.Minute), history[len(history)-2].Time)
}

func TestEngine_Close(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	require.NoError(t, e.Start())
	updates, _ := e.Subscribe(4)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Start(), ErrClosed)
	_, err := e.SubmitCarbs(10)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.InjectFault("x"), ErrClosed)

	_, open := <-updates
	assert.False(t, open, "subscriptions close with the engine")

	late, _ := e.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	assert.False(t, e.Status().Running)
}

func TestEngine_SubscribeCancel(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	updates, cancel := e.Subscribe(1)
	cancel()
	cancel()

	_, open := <-updates
	assert.False(t, open)

	_, err := e.SubmitCarbs(10)
	require.NoError(t, err)
}

func TestEngine_SlowSubscriberDoesNotBlock(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultConfig())
	_, cancel := e.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.SetConnected(i%2 == 0))
	}
	assert.Len(t, e.Events(0), 10)
}

func TestConfigFromSettings(t *testing.T) {
	settings := models.DefaultSettings()
	settings.TickSeconds = 1
	settings.DeliveryDelayMs = 500
	settings.HistoryCapacity = 50
	settings.BaselineGlucose = 140

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.DeliveryDelay)
	assert.Equal(t, 50, cfg.HistoryCapacity)
	assert.Equal(t, 140.0, cfg.Generator.Baseline)
	assert.Equal(t, 60*time.Minute, cfg.SeedWindow)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	def := DefaultConfig()

	assert.Equal(t, def.TickInterval, cfg.TickInterval)
	assert.Equal(t, def.DeliveryDelay, cfg.DeliveryDelay)
	assert.Equal(t, def.HistoryCapacity, cfg.HistoryCapacity)
	assert.Equal(t, def.Generator, cfg.Generator)
	assert.Equal(t, 2*time.Second, cfg.deliveryWait())

	instant := Config{DeliveryDelay: InstantDelivery}.withDefaults()
	assert.Equal(t, InstantDelivery, instant.DeliveryDelay)
	assert.Equal(t, time.Duration(0), instant.deliveryWait())

	other := Config{DeliveryDelay: -time.Hour}.withDefaults()
	assert.Equal(t, InstantDelivery, other.DeliveryDelay)
}

func TestConfigFromSettings_ZeroDelayIsInstant(t *testing.T) {
	settings := models.DefaultSettings()
	settings.DeliveryDelayMs = 0

	cfg := ConfigFromSettings(settings).withDefaults()
	assert.Equal(t, InstantDelivery, cfg.DeliveryDelay)
	assert.Equal(t, time.Duration(0), cfg.deliveryWait())
}

func TestEngine_InstantDeliveryCompletes(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{DeliveryDelay: InstantDelivery})

	_, err := e.SubmitCarbs(30)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return countEvents(e, models.EventDose, "Delivery complete") == 1
	}, waitFor, pollEvery)
	require.Eventually(t, func() bool { return e.Status().Pump == models.PumpIdle }, waitFor, pollEvery)
}
