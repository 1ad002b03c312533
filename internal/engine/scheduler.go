package engine

import (
	"fmt"
	"time"

	"github.com/mrcode/unity-pump/internal/models"
)

// seed backfills the history with one sample per slot across the seed
// window, oldest first, ending at now. Caller holds mu.
func (e *Engine) seed(now time.Time) {
	slots := int(e.cfg.SeedWindow / e.cfg.SeedSpacing)
	for i := slots; i >= 0; i-- {
		t := now.Add(-time.Duration(i) * e.cfg.SeedSpacing)
		e.history.Append(models.NewGlucoseSample(t, e.gen.Next()))
	}

	if latest, ok := e.history.Latest(); ok {
		e.glucose = latest.Value
	}
	e.lastUpdate = now
}

// scheduleTick replaces any pending tick with a fresh schedule. The
// generation counter invalidates callbacks of the replaced schedule that
// already fired and are queued on the loop. Caller holds mu.
func (e *Engine) scheduleTick() {
	e.cancelTick()
	e.armTick(e.tickGen)
}

func (e *Engine) armTick(gen uint64) {
	e.tickTimer = e.clock.AfterFunc(e.cfg.TickInterval, func() {
		e.post(func() { e.tick(gen) })
	})
}

// cancelTick stops the current schedule. Caller holds mu.
func (e *Engine) cancelTick() {
	e.tickGen++
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
}

// tick produces one reading: generator, history, event log
func (e *Engine) tick(gen uint64) {
	if gen != e.tickGen || !e.running {
		return
	}

	var value float64
	e.mutate(func(now time.Time) {
		value = e.gen.Next()
		sample := models.NewGlucoseSample(now, value)
		if prev, ok := e.history.Latest(); ok {
			e.prev = &prev
		}
		e.history.Append(sample)
		e.sample = &sample
		e.glucose = value
		e.lastUpdate = now

		e.record(models.EventGlucose, fmt.Sprintf("Glucose received: %d mg/dL", sample.ValueMgDL()), now)

		// Re-arm before releasing the lock so readers never see a tick
		// without its successor scheduled.
		e.armTick(gen)
	})

	e.log.Debug("glucose tick", "mgdl", value)
}
