// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport owns the network sessions to a Bambu printer: the MQTT
// session carrying telemetry and commands, and short-lived FTPS sessions
// for the SD card. Both run over TLS and verify the printer's identity
// against the configured serial number instead of a CA chain.
package transport

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Errors returned by sessions
var (
	ErrConnect             = errors.New("transport: connection failed")
	ErrSerialMismatch      = errors.New("transport: printer serial number mismatch")
	ErrFingerprintMismatch = errors.New("transport: certificate fingerprint mismatch")
	ErrLoginRejected       = errors.New("transport: login rejected")
	ErrTimeout             = errors.New("transport: timed out")
	ErrNotConnected        = errors.New("transport: not connected")
)

// Default limits
const (
	DefaultBufferSize = 64
	defaultKeepAlive  = 30 * time.Second
)

// Config describes one printer endpoint
type Config struct {
	Host       string
	Port       int // MQTT port
	FTPSPort   int
	Username   string
	AccessCode string
	Serial     string

	// Fingerprint optionally pins the SHA-256 of the printer certificate
	// (hex, colons allowed).
	Fingerprint string

	ConnectTimeout time.Duration
	BufferSize     int

	Logger logrus.FieldLogger
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
