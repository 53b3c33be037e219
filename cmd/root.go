// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/internal/logging"
)

var (
	// Configuration flags
	configPath  string
	printerName string

	// Printer override flags
	hostFlag   string
	serialFlag string

	// Logging flags
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "bambustat",
	Short: "Bambu Lab printer monitor and control",
	Long: `Bambustat - monitor and operate Bambu Lab printers over the LAN.

The printer must be in LAN mode. Bambustat connects to its MQTT broker over
TLS, keeps a normalized view of the printer state and sends commands on
behalf of a terminal monitor, a remote display or a serial touchscreen.

Printers are described in a YAML file (--config). For a quick start without a
file, --host and --serial are enough:

  bambustat monitor --host 192.168.1.40 --serial 01P00A123456789

The access code is read from the BAMBU_ACCESS_CODE environment variable, or
prompted interactively if not set. There is intentionally no --access-code
flag to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Early output only; loadConfig applies the file's settings
		return logging.Setup(logLevel, logFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./bambustat.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&printerName, "printer", "P", "", "Name of the configured printer to use")

	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Printer address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serialFlag, "serial", "", "Printer serial number (overrides config)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
