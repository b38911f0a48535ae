// heartglow runs the heart-rate wearable: it samples the optical pulse
// sensor, estimates the heart rate and plays a light sequence on every beat.
//
// Usage:
//
//	heartglow [-config heartglow.cfg] [-sim] [-log-level debug]
//
// Options:
//
//	-config string     Device configuration file (defaults apply when empty)
//	-sim               Use the simulated sensor and log strip frames
//	-log-level string  Override the configured log level
//
// The debug server (default :8080) serves /state, /ws, /metrics, /health
// and accepts POST /trigger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"heartglow/pkg/app"
	"heartglow/pkg/config"
	hglog "heartglow/pkg/log"
)

func main() {
	configFile := flag.String("config", "", "Device configuration file")
	sim := flag.Bool("sim", false, "Use the simulated sensor and log strip frames")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.DefaultDevice()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadDevice(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *sim {
		cfg.Sensor.Driver = config.DriverSim
		cfg.Strip.Transport = config.TransportLog
	}

	opts := hglog.DefaultOptions(cfg.Name)
	opts.Level = cfg.LogLevel
	opts.Format = cfg.LogFormat
	opts.File = cfg.LogFile
	opts.FileMaxMB = cfg.LogFileMB
	opts.FileBackups = cfg.LogKeep
	opts.FileCompress = cfg.LogCompress
	hglog.ConfigureFromEnv(&opts)
	if *logLevel != "" {
		opts.Level = *logLevel
	}
	logger, cleanup, err := hglog.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	dev, err := app.New(cfg, app.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to build device", zap.Error(err))
		cleanup()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("heartglow starting",
		zap.String("config", *configFile),
		zap.String("sensor", cfg.Sensor.Driver),
		zap.String("trigger", string(cfg.Trigger.Policy)),
		zap.Bool("network", cfg.Network.Enabled))

	if err := dev.Run(ctx); err != nil {
		logger.Error("control loop failed", zap.Error(err))
		cleanup()
		os.Exit(1)
	}
	logger.Info("heartglow stopped")
}
