// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"time"

	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// PollInterval returns the configured telemetry poll period
func (p PrinterConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// Features returns the configured feature set, or zero when the printer
// should use the built-in defaults.
func (p PrinterConfig) Features() printer.Feature {
	var set printer.Feature
	for _, name := range p.SupportedFeatures {
		if f, ok := printer.ParseFeature(name); ok {
			set |= f
		}
	}
	return set
}

// Devices returns the configured heater set, or zero for the defaults.
func (p PrinterConfig) Devices() printer.TemperatureDevice {
	var set printer.TemperatureDevice
	for _, name := range p.TemperatureDevices {
		if d, ok := printer.ParseTemperatureDevice(name); ok {
			set |= d
		}
	}
	return set
}

// ToBambu converts a normalized printer entry to the driver configuration.
func (p PrinterConfig) ToBambu() bambu.Config {
	macros := make(map[string]string, len(p.Macros))
	for name, gcode := range p.Macros {
		macros[name] = gcode
	}

	return bambu.Config{
		Name:           p.Name,
		Host:           p.Host,
		Port:           p.Port,
		FTPSPort:       p.FTPSPort,
		Serial:         p.Serial,
		AccessCode:     p.AccessCode,
		Fingerprint:    p.TLSFingerprint,
		ConnectTimeout: time.Duration(p.ConnectTimeoutMs) * time.Millisecond,
		FileTimeout:    time.Duration(p.FileTimeoutMs) * time.Millisecond,
		MaxFiles:       p.MaxFiles,
		Dispatch: bambu.DispatchConfig{
			Features:           p.Features(),
			TemperatureDevices: p.Devices(),
			ExtrudeMM:          p.Motion.ExtrudeMM,
			ExtrudeFeedrate:    p.Motion.ExtrudeFeedrate,
			MoveFeedrate:       p.Motion.MoveFeedrate,
			ZMoveFeedrate:      p.Motion.ZMoveFeedrate,
			Macros:             macros,
		},
	}
}
