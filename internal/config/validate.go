// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bambustat/pkg/bambu/transport"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Validate checks configuration correctness.
// It performs declarative validation only and never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.LogLevel != "" {
		if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", cfg.LogFormat)
	}

	if len(cfg.Printers) == 0 {
		return fmt.Errorf("no printers configured")
	}
	if cfg.Active < 0 || cfg.Active >= len(cfg.Printers) {
		return fmt.Errorf("active printer %d out of range (have %d)", cfg.Active, len(cfg.Printers))
	}

	names := make(map[string]int)
	for i, p := range cfg.Printers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		if prev, exists := names[p.Name]; exists && p.Name != "" {
			return fmt.Errorf("printer %q: name already used by printer #%d", p.Name, prev)
		}
		names[p.Name] = i

		if err := validatePrinter(p); err != nil {
			return fmt.Errorf("printer %q: %w", label, err)
		}
	}

	return nil
}

func validatePrinter(p PrinterConfig) error {
	switch strings.ToLower(p.Type) {
	case "", TypeBambu:
	default:
		return fmt.Errorf("unsupported type %q", p.Type)
	}

	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if strings.TrimSpace(p.Serial) == "" {
		return fmt.Errorf("serial is required")
	}

	for key, port := range map[string]int{"port": p.Port, "ftps_port": p.FTPSPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", key, port)
		}
	}

	for key, v := range map[string]int{
		"poll_interval_ms":   p.PollIntervalMs,
		"connect_timeout_ms": p.ConnectTimeoutMs,
		"file_timeout_ms":    p.FileTimeoutMs,
		"max_files":          p.MaxFiles,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	if p.Motion.ExtrudeMM < 0 || p.Motion.ExtrudeFeedrate < 0 ||
		p.Motion.MoveFeedrate < 0 || p.Motion.ZMoveFeedrate < 0 {
		return fmt.Errorf("extrusion and feedrate settings must not be negative")
	}

	if p.TLSFingerprint != "" {
		if _, err := transport.ParseFingerprint(p.TLSFingerprint); err != nil {
			return fmt.Errorf("tls_fingerprint: %w", err)
		}
	}

	for _, name := range p.SupportedFeatures {
		if _, ok := printer.ParseFeature(name); !ok {
			return fmt.Errorf("supported_features: unknown feature %q", name)
		}
	}
	for _, name := range p.TemperatureDevices {
		if _, ok := printer.ParseTemperatureDevice(name); !ok {
			return fmt.Errorf("temperature_devices: unknown device %q", name)
		}
	}

	for name, gcode := range p.Macros {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("macros: empty macro name")
		}
		if strings.TrimSpace(gcode) == "" {
			return fmt.Errorf("macros: macro %q has no G-code", name)
		}
	}

	return nil
}
