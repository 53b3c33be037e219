// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"strings"

	"github.com/Thermoquad/bambustat/pkg/bambu"
)

// Normalize applies defaults after validation.
// It is allowed to mutate configuration and must only be called after
// Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	for i := range cfg.Printers {
		p := &cfg.Printers[i]

		if p.Type == "" {
			p.Type = TypeBambu
		}
		p.Type = strings.ToLower(p.Type)
		p.Serial = strings.ToUpper(strings.TrimSpace(p.Serial))
		p.Host = strings.TrimSpace(p.Host)
		if p.Name == "" {
			p.Name = p.Serial
		}

		if p.Port == 0 {
			p.Port = bambu.DefaultMQTTPort
		}
		if p.FTPSPort == 0 {
			p.FTPSPort = bambu.DefaultFTPSPort
		}
		if p.PollIntervalMs == 0 {
			p.PollIntervalMs = int(bambu.DefaultPollInterval.Milliseconds())
		}
		if p.ConnectTimeoutMs == 0 {
			p.ConnectTimeoutMs = int(bambu.DefaultConnectTimeout.Milliseconds())
		}
		if p.FileTimeoutMs == 0 {
			p.FileTimeoutMs = int(bambu.DefaultFileTimeout.Milliseconds())
		}
		if p.MaxFiles == 0 {
			p.MaxFiles = bambu.DefaultMaxFiles
		}

		// Motion defaults are left at zero; the dispatcher fills them in.
	}
}
