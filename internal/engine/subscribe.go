package engine

import "github.com/mrcode/unity-pump/internal/models"

// Update is published after every engine step
type Update struct {
	Events    []models.PumpEvent `json:"events"` // recorded in this step, oldest first
	Completed *models.DoseRecord `json:"completed,omitempty"`
	Status    Status             `json:"status"`

	// Set by a glucose tick: the reading it produced and the reading
	// before it. Consumers lagging behind the engine use these rather
	// than the live history.
	Sample   *models.GlucoseSample `json:"sample,omitempty"`
	Previous *models.GlucoseSample `json:"previous,omitempty"`
}

// Subscribe returns a channel of updates and a cancel function. Updates
// are dropped for a subscriber whose buffer is full; the engine never
// blocks on a reader. The channel is closed by cancel or by Close.
func (e *Engine) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	if e.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	cancel := func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (e *Engine) broadcast(u Update) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for id, ch := range e.subs {
		select {
		case ch <- u:
		default:
			e.log.Warn("subscriber too slow, dropping update", "subscriber", id, "events", len(u.Events))
		}
	}
}
