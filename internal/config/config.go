// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bambustat YAML configuration.
//
// Loading is split in three stages: Load parses the file, Validate checks it
// without mutating anything and Normalize fills in defaults. Callers must run
// Validate before Normalize.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// AccessCodeEnv names the environment variable consulted when a printer has
// no access_code in the file.
const AccessCodeEnv = "BAMBU_ACCESS_CODE"

// Printer types
const (
	TypeBambu = "bambu"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// Active is the index of the printer selected at startup
	Active int `yaml:"active"`

	Printers []PrinterConfig `yaml:"printers"`
}

// ---- PRINTER ----

type PrinterConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	FTPSPort       int    `yaml:"ftps_port"`
	Serial         string `yaml:"serial"`
	AccessCode     string `yaml:"access_code"`
	TLSFingerprint string `yaml:"tls_fingerprint"`

	PollIntervalMs   int `yaml:"poll_interval_ms"`
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	FileTimeoutMs    int `yaml:"file_timeout_ms"`
	MaxFiles         int `yaml:"max_files"`

	Motion MotionConfig `yaml:",inline"`

	SupportedFeatures  []string          `yaml:"supported_features"`
	TemperatureDevices []string          `yaml:"temperature_devices"`
	Macros             map[string]string `yaml:"macros"`
}

// ---- MOTION ----

type MotionConfig struct {
	ExtrudeMM       float64 `yaml:"extrude_mm"`
	ExtrudeFeedrate float64 `yaml:"extrude_feedrate"`
	MoveFeedrate    float64 `yaml:"move_feedrate"`
	ZMoveFeedrate   float64 `yaml:"z_move_feedrate"`
}

// Load reads and parses the file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. An empty document yields an
// empty configuration.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Find returns the index of the printer named name, or -1.
func (c *Config) Find(name string) int {
	for i, p := range c.Printers {
		if p.Name == name {
			return i
		}
	}
	return -1
}
