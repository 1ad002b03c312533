package engine

import (
	"time"

	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/sim"
)

// InstantDelivery as Config.DeliveryDelay completes deliveries without
// waiting. A zero DeliveryDelay means the default 2 s.
const InstantDelivery time.Duration = -1

// Config holds the timing and sizing parameters of the simulation.
// Zero fields take the DefaultConfig value.
type Config struct {
	TickInterval    time.Duration // period of the glucose feed
	DeliveryDelay   time.Duration // command to delivery-complete delay; see InstantDelivery
	HistoryCapacity int
	SeedWindow      time.Duration // backfill span on first start
	SeedSpacing     time.Duration // spacing of backfilled samples
	Generator       sim.GeneratorConfig
}

// DefaultConfig returns the reference timing: 5 s ticks, 2 s deliveries,
// 200 samples and a 60 minute backfill at 5 minute spacing.
func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		DeliveryDelay:   2 * time.Second,
		HistoryCapacity: sim.DefaultHistoryCapacity,
		SeedWindow:      60 * time.Minute,
		SeedSpacing:     5 * time.Minute,
		Generator:       sim.DefaultGeneratorConfig(),
	}
}

// ConfigFromSettings derives an engine config from user settings
func ConfigFromSettings(s *models.Settings) Config {
	cfg := DefaultConfig()
	c := s.Clone()

	if d := c.TickInterval(); d > 0 {
		cfg.TickInterval = d
	}
	switch {
	case c.DeliveryDelayMs == 0:
		cfg.DeliveryDelay = InstantDelivery
	case c.DeliveryDelayMs > 0:
		cfg.DeliveryDelay = c.DeliveryDelay()
	}
	if c.HistoryCapacity > 0 {
		cfg.HistoryCapacity = c.HistoryCapacity
	}
	if c.BaselineGlucose > 0 {
		cfg.Generator.Baseline = c.BaselineGlucose
	}
	return cfg
}

// deliveryWait is the timer duration for one delivery
func (c Config) deliveryWait() time.Duration {
	return max(c.DeliveryDelay, 0)
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	switch {
	case c.DeliveryDelay == 0:
		c.DeliveryDelay = def.DeliveryDelay
	case c.DeliveryDelay < 0:
		c.DeliveryDelay = InstantDelivery
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.SeedWindow <= 0 {
		c.SeedWindow = def.SeedWindow
	}
	if c.SeedSpacing <= 0 {
		c.SeedSpacing = def.SeedSpacing
	}
	if c.Generator == (sim.GeneratorConfig{}) {
		c.Generator = def.Generator
	}
	return c
}
