// Package main is the entry point for the Unity Pump desktop application
package main

import (
	"embed"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"github.com/mrcode/unity-pump/internal/app"
	"github.com/mrcode/unity-pump/internal/models"
	"github.com/mrcode/unity-pump/internal/mqtt"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	settings := models.DefaultSettings()
	if err := settings.Load(); err != nil {
		logger.Warn("loading settings, using defaults", "err", err)
	}

	opts := []app.Option{app.WithLogger(logger)}
	cfg := settings.Clone()
	if cfg.MQTTBroker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("mqtt disabled", "broker", cfg.MQTTBroker, "err", err)
		} else {
			defer pub.Close()
			opts = append(opts, app.WithPublisher(pub))
		}
	}

	svc := app.NewPumpService(settings, opts...)

	wailsApp := application.New(application.Options{
		Name:        "Unity Pump",
		Description: "Simulated CGM and insulin pump",
		Services: []application.Service{
			application.NewService(svc),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(assets),
		},
		Mac: application.MacOptions{
			ActivationPolicy: application.ActivationPolicyAccessory,
		},
	})

	window := wailsApp.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:            "Unity Pump",
		Width:            cfg.WindowWidth,
		Height:           cfg.WindowHeight,
		MinWidth:         360,
		MinHeight:        600,
		Hidden:           cfg.StartMinimized,
		BackgroundColour: application.NewRGB(27, 38, 54),
		URL:              "/",
	})

	// Hide instead of close; quitting goes through the tray menu
	window.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		window.Hide()
		e.Cancel()
	})

	showWindow := func() {
		window.Show()
		window.Focus()
	}

	menu := application.NewMenu()
	menu.Add("Open Dashboard").OnClick(func(*application.Context) { showWindow() })
	menu.Add("Send Test Notification").OnClick(func(*application.Context) {
		if err := svc.SendTestNotification(); err != nil {
			logger.Warn("test notification failed", "err", err)
		}
	})
	menu.AddSeparator()
	menu.Add("Quit").OnClick(func(*application.Context) { wailsApp.Quit() })

	systemTray := wailsApp.SystemTray.New()
	systemTray.SetLabel("---")
	systemTray.SetMenu(menu)
	systemTray.OnClick(showWindow)

	svc.SetApp(wailsApp)
	svc.SetTray(systemTray)

	if err := wailsApp.Run(); err != nil {
		logger.Error("application exited", "err", err)
		os.Exit(1)
	}
}
