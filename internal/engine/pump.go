package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/sim"
)

// SubmitCarbs commands a meal bolus for grams of carbohydrate.
//
// The dose is computed from the insulin:carb ratio current at the time of
// the call. On success the pump is delivering and a completion is scheduled
// after the delivery delay. Overlapping submissions never cancel each other:
// each completes on its own timer, and the pump returns to idle once no
// delivery is in flight. The delay therefore bounds the idle transition
// per delivery: a second submission made before the first completes keeps
// the pump delivering until the delay after that second submission.
//
// Rejected submissions (negative grams, bad ratio, pump fault) change no
// state and record no events.
func (e *Engine) SubmitCarbs(grams int) (models.DoseRecord, error) {
	var (
		rec   models.DoseRecord
		opErr error
	)
	if err := e.do(func() { rec, opErr = e.submitCarbs(grams) }); err != nil {
		return models.DoseRecord{}, err
	}
	return rec, opErr
}

func (e *Engine) submitCarbs(grams int) (models.DoseRecord, error) {
	if grams < 0 {
		return models.DoseRecord{}, fmt.Errorf("carbs %d g: %w", grams, models.ErrInvalidInput)
	}
	if e.state == models.PumpError {
		return models.DoseRecord{}, fmt.Errorf("submit carbs: %w", models.ErrPumpFault)
	}

	units, err := sim.ComputeDose(grams, e.dosing.DosingSettings().InsulinToCarbRatio)
	if err != nil {
		return models.DoseRecord{}, fmt.Errorf("compute dose: %w", err)
	}

	var rec models.DoseRecord
	e.mutate(func(now time.Time) {
		rec = models.DoseRecord{
			SubmissionID: uuid.New(),
			Carbs:        grams,
			Units:        units,
			Type:         models.TreatmentEventTypes.MealBolus,
			CommandedAt:  now,
		}

		e.record(models.EventCarbs, fmt.Sprintf("Carbs submitted: %d g", grams), now)
		e.record(models.EventDose, fmt.Sprintf("Commanded dose: %.1f U", units), now)

		e.state = models.PumpDelivering
		last := rec
		e.lastDose = &last
		e.lastCommand = fmt.Sprintf("%s %.1f U for %d g", rec.Type, units, grams)

		id := rec.SubmissionID
		e.inflight[id] = &delivery{
			dose: rec,
			timer: e.clock.AfterFunc(e.cfg.deliveryWait(), func() {
				e.post(func() { e.completeDelivery(id) })
			}),
		}
	})

	e.log.Info("bolus commanded", "carbs", grams, "units", units, "submission", rec.SubmissionID)
	return rec, nil
}

// completeDelivery finishes one submission. The event carries the
// completion time, not the submission time.
func (e *Engine) completeDelivery(id uuid.UUID) {
	d, ok := e.inflight[id]
	if !ok {
		return
	}

	e.mutate(func(now time.Time) {
		delete(e.inflight, id)
		d.dose.CompletedAt = now

		if e.lastDose != nil && e.lastDose.SubmissionID == id {
			last := d.dose
			e.lastDose = &last
		}
		done := d.dose
		e.completed = &done

		e.record(models.EventDose, fmt.Sprintf("Delivery complete: %.1f U", d.dose.Units), now)

		if e.state == models.PumpDelivering && len(e.inflight) == 0 {
			e.state = models.PumpIdle
		}
	})

	e.log.Info("delivery complete", "units", d.dose.Units, "submission", id)
}

// InjectFault puts the pump into the error state. Deliveries in flight
// still complete but the pump stays in error until ClearFault.
func (e *Engine) InjectFault(reason string) error {
	return e.do(func() {
		e.mutate(func(now time.Time) {
			e.state = models.PumpError
			e.faultReason = reason
			e.record(models.EventConnection, "Pump fault: "+reason, now)
		})
		e.log.Warn("pump fault injected", "reason", reason)
	})
}

// ClearFault leaves the error state. A no-op when the pump is not faulted.
func (e *Engine) ClearFault() error {
	return e.do(func() {
		if e.state != models.PumpError {
			return
		}
		e.mutate(func(now time.Time) {
			e.state = models.PumpIdle
			if len(e.inflight) > 0 {
				e.state = models.PumpDelivering
			}
			e.faultReason = ""
			e.record(models.EventConnection, "Pump fault cleared", now)
		})
		e.log.Info("pump fault cleared")
	})
}

// SetConnected records a connection change. Repeated values are ignored.
func (e *Engine) SetConnected(connected bool) error {
	return e.do(func() {
		if e.connected == connected {
			return
		}
		e.mutate(func(now time.Time) {
			e.connected = connected
			msg := "Pump disconnected"
			if connected {
				msg = "Pump connected"
			}
			e.record(models.EventConnection, msg, now)
		})
	})
}
