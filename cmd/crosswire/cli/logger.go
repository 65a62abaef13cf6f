// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger builds the default logger for CLI commands: text format
// at info level when stderr is a terminal, JSON otherwise (so logs from
// scripted or supervised invocations stay machine-readable).
func NewCommandLogger() *slog.Logger {
	return NewLoggerAt(slog.LevelInfo)
}

// NewLoggerAt builds a command logger at the given level. Long-running
// commands that read a config file use this to honor the configured
// logging level.
func NewLoggerAt(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
