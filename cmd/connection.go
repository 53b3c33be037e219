// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/bambustat/internal/config"
	"github.com/Thermoquad/bambustat/internal/logging"
	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

const defaultConfigFile = "bambustat.yaml"

// loadConfig reads the config file (if any), applies command-line
// overrides, validates and normalizes the result and reconfigures logging.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}

	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if printerName != "" {
		idx := cfg.Find(printerName)
		if idx < 0 {
			return nil, fmt.Errorf("printer %q not found in config", printerName)
		}
		cfg.Active = idx
	}

	if hostFlag != "" || serialFlag != "" {
		if len(cfg.Printers) == 0 {
			cfg.Printers = append(cfg.Printers, config.PrinterConfig{})
			cfg.Active = 0
		}
		if cfg.Active >= 0 && cfg.Active < len(cfg.Printers) {
			p := &cfg.Printers[cfg.Active]
			if hostFlag != "" {
				p.Host = hostFlag
			}
			if serialFlag != "" {
				p.Serial = serialFlag
			}
		}
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") || cfg.LogFormat == "" {
		cfg.LogFormat = logFormat
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize(cfg)

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Warn(err)
	}
	return cfg, nil
}

// GetAccessCode retrieves the access code from the environment or prompts
// the user
func GetAccessCode(name string) (string, error) {
	// First check environment variable
	if code := os.Getenv(config.AccessCodeEnv); code != "" {
		return code, nil
	}

	fmt.Fprintf(os.Stderr, "Access code for %s: ", name)

	// Read access code without echo
	codeBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		code, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read access code: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(code), nil
	}

	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(codeBytes)), nil
}

// resolveAccessCodes fills in missing access codes. With all is false only
// the active printer is resolved.
func resolveAccessCodes(cfg *config.Config, all bool) error {
	for i := range cfg.Printers {
		if !all && i != cfg.Active {
			continue
		}
		p := &cfg.Printers[i]
		if p.AccessCode != "" {
			continue
		}
		code, err := GetAccessCode(p.Name)
		if err != nil {
			return err
		}
		if code == "" {
			return fmt.Errorf("printer %q: access code is required", p.Name)
		}
		p.AccessCode = code
	}
	return nil
}

// buildManager creates a printer manager over every configured printer
func buildManager(cfg *config.Config) *printer.Manager {
	entries := make([]printer.Entry, 0, len(cfg.Printers))
	for _, pc := range cfg.Printers {
		bc := pc.ToBambu()
		entries = append(entries, printer.Entry{
			Name: pc.Name,
			New: func() (printer.Printer, error) {
				if bc.AccessCode == "" {
					return nil, fmt.Errorf("no access code for %s", bc.Name)
				}
				return bambu.New(bc, bambu.WithLogger(log.StandardLogger())), nil
			},
		})
	}
	return printer.NewManager(entries)
}

// connectActive builds the manager and connects the active printer. A
// failed connect still returns the manager and the printer so callers that
// reconnect in the background can keep going.
func connectActive(ctx context.Context, cfg *config.Config) (*printer.Manager, printer.Printer, error) {
	mgr := buildManager(cfg)
	pc := cfg.Printers[cfg.Active]

	ctx, cancel := context.WithTimeout(ctx, time.Duration(pc.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()

	p, err := mgr.Switch(ctx, cfg.Active)
	if p == nil {
		return nil, nil, err
	}
	return mgr, p, err
}

// connectionInfo describes the active printer for headers
func connectionInfo(cfg *config.Config) string {
	pc := cfg.Printers[cfg.Active]
	return fmt.Sprintf("%s (%s @ %s:%d)", pc.Name, pc.Serial, pc.Host, pc.Port)
}

// OpenSerialPort opens the serial port of a touchscreen console
func OpenSerialPort(portName string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}
	return port, nil
}

// ErrConnectionClosed is returned when reading from a closed bridge
// connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// OpenBridgeConnection dials a running bridge with optional HTTP Basic auth
func OpenBridgeConnection(bridgeURL, username, password string, skipSSLVerify bool) (*websocket.Conn, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, bridgeURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return conn, nil
}
