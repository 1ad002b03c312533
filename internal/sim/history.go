package sim

import (
	"time"

	"github.com/samber/lo"

	"github.com/mrcode/unity-pump/internal/models"
)

// DefaultHistoryCapacity is the number of samples kept
const DefaultHistoryCapacity = 200

// HistoryBuffer is a sliding window of glucose samples in chronological
// order. Once full, the oldest samples are dropped from the front.
type HistoryBuffer struct {
	capacity int
	samples  []models.GlucoseSample
}

// NewHistoryBuffer creates a buffer holding at most capacity samples
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer{
		capacity: capacity,
		samples:  make([]models.GlucoseSample, 0, capacity),
	}
}

// Append adds a sample at the tail and trims the head back to capacity
func (h *HistoryBuffer) Append(sample models.GlucoseSample) {
	h.samples = append(h.samples, sample)
	if over := len(h.samples) - h.capacity; over > 0 {
		// Copy down rather than reslice so the backing array doesn't grow forever
		n := copy(h.samples, h.samples[over:])
		clear(h.samples[n:])
		h.samples = h.samples[:n]
	}
}

// Snapshot returns a copy of all samples, oldest first
func (h *HistoryBuffer) Snapshot() []models.GlucoseSample {
	out := make([]models.GlucoseSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// FilterSince returns the samples with Time >= cutoff, oldest first
func (h *HistoryBuffer) FilterSince(cutoff time.Time) []models.GlucoseSample {
	return lo.Filter(h.samples, func(s models.GlucoseSample, _ int) bool {
		return !s.Time.Before(cutoff)
	})
}

// Latest returns the newest sample
func (h *HistoryBuffer) Latest() (models.GlucoseSample, bool) {
	if len(h.samples) == 0 {
		return models.GlucoseSample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// Len returns the number of samples held
func (h *HistoryBuffer) Len() int {
	return len(h.samples)
}
