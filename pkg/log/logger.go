// Structured logging for the heartglow device
//
// Builds zap loggers with:
// - Log levels (debug, info, warn, error)
// - JSON (production) or console (bench) encoding
// - Optional size-rotated log file next to stdout
// - Service and hostname fields on every entry
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger.
type Options struct {
	// Level is one of debug, info, warn, error (default info)
	Level string

	// Format is "json" or "console" (default json)
	Format string

	// Service is attached as service_name on every entry
	Service string

	// File, when set, receives a copy of every entry with size rotation
	File         string
	FileMaxMB    int
	FileBackups  int
	FileCompress bool
}

// DefaultOptions returns options for a JSON info-level logger.
func DefaultOptions(service string) Options {
	return Options{
		Level:       "info",
		Format:      "json",
		Service:     service,
		FileMaxMB:   defaultFileMB,
		FileBackups: defaultBackups,
	}
}

// ParseLevel parses a string into a zap level, defaulting to info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ConfigureFromEnv applies environment overrides to opts.
// Environment variables:
//   - HEARTGLOW_LOG_LEVEL: debug, info, warn, error
//   - HEARTGLOW_LOG_FORMAT: json, console
//   - HEARTGLOW_LOG_FILE: path of a rotated log file
func ConfigureFromEnv(opts *Options) {
	if v := os.Getenv("HEARTGLOW_LOG_LEVEL"); v != "" {
		opts.Level = v
	}
	if v := os.Getenv("HEARTGLOW_LOG_FORMAT"); v != "" {
		opts.Format = strings.ToLower(v)
	}
	if v := os.Getenv("HEARTGLOW_LOG_FILE"); v != "" {
		opts.File = v
	}
}

// New builds a logger. The returned cleanup flushes the logger and closes
// the log file, if any.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	closeFile := func() error { return nil }
	if opts.File != "" {
		w, closer, err := OpenFileSink(FileConfig{
			Path:      opts.File,
			MaxSizeMB: opts.FileMaxMB,
			Backups:   opts.FileBackups,
			Compress:  opts.FileCompress,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFile = closer
		sinks = append(sinks, w)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	logger := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr)))

	if opts.Service != "" {
		logger = logger.With(zap.String("service_name", opts.Service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}

	cleanup := func() {
		_ = logger.Sync()
		_ = closeFile()
	}
	return logger, cleanup, nil
}

// NewWriterLogger builds a JSON logger writing to ws, used by tools and tests
// that capture output.
func NewWriterLogger(ws zapcore.WriteSyncer, level string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, ParseLevel(level))
	return zap.New(core)
}
