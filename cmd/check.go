// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var (
	checkTimeout int
	checkCount   int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the printer connection and credentials",
	Long: `Connect to the printer, verify its certificate against the configured
serial number, log in with the access code and disconnect again.

No telemetry is subscribed to and no command is sent. This is useful for
verifying:
  - The printer is reachable on its MQTT port
  - The serial number matches the printer certificate
  - The access code is accepted

Exit codes:
  0 - All attempts successful
  1 - Serial number mismatch
  2 - One or more attempts failed`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().IntVar(&checkTimeout, "timeout", 10, "Timeout in seconds for each attempt")
	checkCmd.Flags().IntVar(&checkCount, "count", 1, "Number of attempts")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}
	if checkCount < 1 {
		checkCount = 1
	}

	bc := cfg.Printers[cfg.Active].ToBambu()
	bc.ConnectTimeout = time.Duration(checkTimeout) * time.Second

	fmt.Printf("Bambustat - Connection Test\n")
	fmt.Printf("Printer: %s\n", connectionInfo(cfg))
	fmt.Printf("Timeout: %d seconds per attempt\n", checkTimeout)
	fmt.Printf("Count: %d attempts\n\n", checkCount)

	successCount := 0
	serialMismatch := false

	for i := 1; i <= checkCount; i++ {
		fmt.Printf("Attempt %d/%d: ", i, checkCount)

		ctx, cancel := context.WithTimeout(context.Background(), bc.ConnectTimeout)
		start := time.Now()
		result := bambu.TestConnection(ctx, bc, log.StandardLogger())
		cancel()

		switch result {
		case printer.ConnectOK:
			fmt.Printf("OK, time=%v\n", time.Since(start).Round(time.Millisecond))
			successCount++
		case printer.ConnectSerialFail:
			fmt.Printf("FAILED: %s\n", result)
			serialMismatch = true
		default:
			fmt.Printf("FAILED: %s\n", result)
		}

		// Small delay between attempts
		if i < checkCount {
			time.Sleep(500 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Connection statistics ---\n")
	fmt.Printf("%d attempts, %d successful\n", checkCount, successCount)

	if serialMismatch {
		os.Exit(1)
	}
	if successCount < checkCount {
		os.Exit(2)
	}
	return nil
}
