// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logging centralizes the btclog backend and per-subsystem logger
// wiring shared by cmd/powclient and cmd/powserver, following the
// log-rotator-plus-btclog-backend idiom common across the btcsuite family
// of daemons: stdout and a rotated log file are fanned out to with
// io.MultiWriter, and every package-level logger is created from the same
// backend, with its level set when Logger creates it.
package logging

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Logging owns the backend and the rotator writing to disk, if any.
type Logging struct {
	backend *btclog.Backend
	rotator *rotator.Rotator
}

// New creates a Logging that writes to stdout, and additionally to a
// rotated file at logFile if logFile is non-empty. maxRolls bounds how
// many rotated files are retained.
func New(logFile string, maxRolls int) (*Logging, error) {
	var w io.Writer = os.Stdout

	var rot *rotator.Rotator
	if logFile != "" {
		r, err := rotator.New(logFile, 10*1024, false, maxRolls)
		if err != nil {
			return nil, err
		}
		rot = r
		w = io.MultiWriter(os.Stdout, r)
	}

	return &Logging{backend: btclog.NewBackend(w), rotator: rot}, nil
}

// Logger returns a subsystem logger tagged subsystem, set to level.
func (l *Logging) Logger(subsystem, level string) btclog.Logger {
	logger := l.backend.Logger(subsystem)
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	logger.SetLevel(lvl)
	return logger
}

// Close releases the underlying log rotator, if one was configured.
func (l *Logging) Close() {
	if l.rotator != nil {
		l.rotator.Close()
	}
}
