// Size-bounded log file for flash storage
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultFileMB  = 1
	defaultBackups = 2
)

// FileConfig bounds the on-device log file.
type FileConfig struct {
	Path string

	// MaxSizeMB is the size at which the file is rotated (default 1).
	MaxSizeMB int

	// Backups is the number of rotated files kept next to Path (default 2).
	Backups int

	// Compress gzips rotated files.
	Compress bool
}

// Logger maps the config onto a lumberjack logger. The file is opened
// lazily on the first write.
func (c FileConfig) Logger() (*lumberjack.Logger, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("log: file path is required")
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultFileMB
	}
	if c.Backups <= 0 {
		c.Backups = defaultBackups
	}
	return &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.Backups,
		LocalTime:  true,
		Compress:   c.Compress,
	}, nil
}

// OpenFileSink returns a write syncer for cfg and the closer of the
// underlying file.
func OpenFileSink(cfg FileConfig) (zapcore.WriteSyncer, func() error, error) {
	lj, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return zapcore.AddSync(lj), lj.Close, nil
}
