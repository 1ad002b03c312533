// Package sim holds the single-threaded building blocks of the pump
// simulation: the glucose random walk, the bounded history, the event log
// and the dose calculator. None of the types here are safe for concurrent
// use; the engine serialises access.
package sim

import (
	"math/rand/v2"

	"github.com/mrcode/unity-pump/internal/models"
)

// GeneratorConfig parameterises the random walk
type GeneratorConfig struct {
	Baseline float64 // starting value, mg/dL
	Min      float64
	Max      float64
	MaxDrift float64 // per-step drift is uniform in [-MaxDrift, MaxDrift]
}

// DefaultGeneratorConfig returns the 110 mg/dL walk bounded to 60-250
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Baseline: 110,
		Min:      models.GlucoseFloor,
		Max:      models.GlucoseCeiling,
		MaxDrift: 3,
	}
}

// Generator produces simulated glucose readings as a bounded random walk
type Generator struct {
	cfg     GeneratorConfig
	rng     *rand.Rand
	current float64
}

// NewGenerator creates a generator. A nil rng uses a randomly seeded source.
func NewGenerator(cfg GeneratorConfig, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{
		cfg:     cfg,
		rng:     rng,
		current: clamp(cfg.Baseline, cfg.Min, cfg.Max),
	}
}

// Next advances the walk one step and returns the new value
func (g *Generator) Next() float64 {
	drift := (g.rng.Float64()*2 - 1) * g.cfg.MaxDrift
	g.current = clamp(g.current+drift, g.cfg.Min, g.cfg.Max)
	return g.current
}

// Current returns the last produced value without advancing
func (g *Generator) Current() float64 {
	return g.current
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
