// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/intent"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var waitTelemetryTimeout int

var waitTelemetryCmd = &cobra.Command{
	Use:   "wait_telemetry",
	Short: "Test the connection by waiting for a status report",
	Long: `Connect to the printer, request a full status push and wait until a
status document has been merged.

Exit codes:
  0 - Status received before timeout
  1 - Timeout reached without a status document
  2 - Connection error

Useful in scripts that need the printer to be up before continuing.`,
	RunE: runWaitTelemetry,
}

func init() {
	rootCmd.AddCommand(waitTelemetryCmd)
	waitTelemetryCmd.Flags().IntVar(&waitTelemetryTimeout, "timeout", 10, "Timeout in seconds to wait for a status report")
}

func runWaitTelemetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}

	mgr, p, err := connectActive(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer mgr.Close()

	fmt.Printf("Bambustat - Telemetry Test\n")
	fmt.Printf("Printer: %s\n", connectionInfo(cfg))
	fmt.Printf("Timeout: %d seconds\n", waitTelemetryTimeout)
	fmt.Printf("Waiting for status report...\n\n")

	received := make(chan printer.Snapshot, 1)
	unsubscribe := p.Subscribe(func(s printer.Snapshot) {
		if s.State == printer.StateOffline {
			return
		}
		select {
		case received <- s:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(cfg.Printers[cfg.Active].PollInterval())
	defer ticker.Stop()
	timeout := time.After(time.Duration(waitTelemetryTimeout) * time.Second)

	for {
		select {
		case s := <-received:
			fmt.Printf("SUCCESS: %s\n", intent.FormatStatus(s))
			mgr.Close()
			os.Exit(0)

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No status report received within %d seconds\n", waitTelemetryTimeout)
			mgr.Close()
			os.Exit(1)

		case <-ticker.C:
			if !p.Fetch() {
				fmt.Fprintf(os.Stderr, "Connection lost\n")
				mgr.Close()
				os.Exit(2)
			}
		}
	}
}
