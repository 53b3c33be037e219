// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format to the standard logger. An unknown level
// falls back to info; the returned error reports it so the caller can warn.
func Setup(level, format string) error {
	return configure(log.StandardLogger(), level, format)
}

func configure(l *log.Logger, level, format string) error {
	var levelErr error
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
		levelErr = fmt.Errorf("invalid log level %q, using info", level)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&log.JSONFormatter{})
	default:
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return levelErr
}

// RedirectToFile sends log output to path so a full-screen terminal UI is
// not overwritten. An empty path discards log output. The returned function
// restores stderr and closes the file.
func RedirectToFile(path string) (func(), error) {
	return redirect(log.StandardLogger(), path)
}

func redirect(l *log.Logger, path string) (func(), error) {
	if path == "" {
		l.SetOutput(io.Discard)
		return func() { l.SetOutput(os.Stderr) }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.SetOutput(f)
	return func() {
		l.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
