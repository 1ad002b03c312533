// Command pumpsim runs the pump simulator headless: the engine, the HTTP
// status server and MQTT forwarding, without the desktop shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mrcode/unity-pump/internal/engine"
	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/mqtt"
	"github.com/mrcode/unity-pump/internal/web"
)

type options struct {
	configPath string
	broker     string
	httpAddr   string
	heartbeat  time.Duration
	tick       time.Duration
	delay      time.Duration
	ratio      float64
	seed       uint64
	verbose    bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Settings file (default: user config dir)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address, e.g. tcp://localhost:1883 (overrides settings)")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address (overrides settings, \"off\" disables)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.DurationVar(&o.tick, "tick", 0, "Glucose reading interval (overrides settings)")
	flag.DurationVar(&o.delay, "delivery-delay", -1, "Time from command to delivery complete (overrides settings)")
	flag.Float64Var(&o.ratio, "ratio", 0, "Insulin to carb ratio in grams per unit (overrides settings)")
	flag.Uint64Var(&o.seed, "seed", 0, "Random seed for a reproducible glucose trace (0 = random)")
	flag.BoolVar(&o.verbose, "v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	if err := run(o, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// loadSettings reads the settings file and applies flag overrides
func loadSettings(o options) (*models.Settings, error) {
	settings := models.DefaultSettings()

	var err error
	if o.configPath != "" {
		err = settings.LoadFrom(o.configPath)
	} else {
		err = settings.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	cfg := settings.Clone()
	if o.broker != "" {
		cfg.MQTTBroker = o.broker
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTPAddr = ""
	default:
		cfg.HTTPAddr = o.httpAddr
	}
	if o.tick > 0 {
		cfg.TickSeconds = max(1, int(o.tick.Seconds()))
	}
	if o.delay >= 0 {
		cfg.DeliveryDelayMs = int(o.delay.Milliseconds())
	}
	if o.ratio != 0 {
		cfg.Dosing.InsulinToCarbRatio = o.ratio
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	settings.Update(cfg)
	return settings, nil
}

func run(o options, logger *slog.Logger) error {
	settings, err := loadSettings(o)
	if err != nil {
		return err
	}
	cfg := settings.Clone()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if o.seed != 0 {
		engineOpts = append(engineOpts, engine.WithRand(rand.New(rand.NewPCG(o.seed, o.seed))))
	}
	eng := engine.New(settings, engine.ConfigFromSettings(settings), engineOpts...)
	defer eng.Close()

	updates, cancel := eng.Subscribe(256)
	defer cancel()

	var (
		publisher  mqtt.Publisher
		mqttStatus web.MQTTStatus
	)
	if cfg.MQTTBroker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()
		publisher, mqttStatus = pub, pub
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if publisher != nil {
		startup := mqtt.SystemEvent{
			Timestamp: eng.Now(),
			Event:     mqtt.SystemStartup,
			Status:    eng.Status(),
			Retained:  true,
		}
		if err := publisher.PublishSystem(startup); err != nil {
			logger.Warn("failed to publish startup event", "err", err)
		} else {
			logger.Info("published startup event")
		}
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, eng, settings, mqttStatus, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTPAddr)
	}

	logger.Info("started",
		"tick", cfg.TickInterval(),
		"delivery_delay", cfg.DeliveryDelay(),
		"ratio", cfg.Dosing.InsulinToCarbRatio,
		"broker", cfg.MQTTBroker,
	)

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, updates, publisher, heartbeat, sigCh, logger)
}

// statusSource is the engine as seen by the loop
type statusSource interface {
	Status() engine.Status
	Now() time.Time
}

func runLoop(eng statusSource, updates <-chan engine.Update, publisher mqtt.Publisher, heartbeat <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if publisher != nil {
				event := mqtt.SystemEvent{
					Timestamp: eng.Now(),
					Event:     mqtt.SystemShutdown,
					Reason:    signalName,
					Status:    eng.Status(),
					Retained:  true,
				}
				if err := publisher.PublishSystem(event); err != nil {
					logger.Warn("failed to publish shutdown event", "err", err)
				} else {
					logger.Info("published shutdown event")
				}
			}
			return nil

		case u, ok := <-updates:
			if !ok {
				return errors.New("engine closed")
			}
			forward(u, publisher, logger)

		case <-heartbeat:
			st := eng.Status()
			logger.Info("heartbeat", "glucose", st.Glucose, "pump", st.Pump, "in_flight", st.InFlight)
			if publisher == nil {
				continue
			}
			hb := mqtt.SystemEvent{
				Timestamp: eng.Now(),
				Event:     mqtt.SystemHeartbeat,
				Status:    st,
			}
			if err := publisher.PublishSystem(hb); err != nil {
				logger.Warn("heartbeat publish error", "err", err)
			}
		}
	}
}

// forward logs one engine update and publishes it.
// Publish failures are logged and never stop the loop.
func forward(u engine.Update, publisher mqtt.Publisher, logger *slog.Logger) {
	for _, ev := range u.Events {
		logger.Info("event", "kind", ev.Kind, "message", ev.Message)
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ev); err != nil {
			logger.Warn("publish error", "err", err)
		}
	}

	if u.Completed != nil && publisher != nil {
		if err := publisher.PublishDose(*u.Completed); err != nil {
			logger.Warn("publish dose error", "err", err)
		}
	}
}
