// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/intent"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var (
	showAll       bool
	statsInterval int
)

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Track printer faults and telemetry errors",
	Long: `Track printer faults, malformed telemetry and anomalous values with statistics.

This command polls the active printer and reports:
  - Printer faults as they are raised, dismissed and cleared
  - Telemetry that could not be decoded
  - Anomalous values (temperatures, percentages, fan speeds out of range)
  - Statistics and trends (document rate, error rate)

By default only faults and state changes are displayed. Use --show-all to
print every status update too.`,
	RunE: runFaults,
}

func init() {
	rootCmd.AddCommand(faultsCmd)
	faultsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all status updates (not just faults)")
	faultsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runFaults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Bambustat - Fault Tracking Mode\n")
	fmt.Printf("Printer: %s\n", connectionInfo(cfg))
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All updates\n")
	} else {
		fmt.Printf("Mode: Faults only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	mgr, p, err := connectActive(ctx, cfg)
	if p == nil {
		return err
	}
	defer mgr.Close()
	if err != nil {
		printFaultLine("\033[1;31mCONNECT FAILED:\033[0m %v", err)
	}

	var prev printer.Snapshot
	first := true
	unsubscribe := p.Subscribe(func(s printer.Snapshot) {
		printSnapshotChanges(prev, s, first)
		prev, first = s, false
	})
	defer unsubscribe()

	var stats *bambu.Statistics
	if bp, ok := p.(*bambu.Printer); ok {
		stats = bp.Statistics()
	}

	pc := cfg.Printers[cfg.Active]
	go pollPrinter(ctx, p, pc.PollInterval(), time.Duration(pc.ConnectTimeoutMs)*time.Millisecond)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			if stats != nil {
				fmt.Println()
				fmt.Print(stats.String())
			}
			return nil

		case <-statsTicker.C:
			if stats != nil {
				fmt.Println()
				fmt.Print(stats.String())
				fmt.Println()
			}
		}
	}
}

// printFaultLine prints one timestamped line
func printFaultLine(format string, args ...interface{}) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

// printSnapshotChanges prints fault and state transitions between two
// snapshots
func printSnapshotChanges(prev, next printer.Snapshot, first bool) {
	if first || prev.State != next.State {
		printFaultLine("\033[1;36mSTATE:\033[0m %s", next.State)
	}

	if next.LastError != prev.LastError {
		switch {
		case next.LastError == 0:
			printFaultLine("\033[1;32mFAULT CLEARED:\033[0m %s", bambu.FormatErrorCode(prev.LastError))
		default:
			printFaultLine("\033[1;31mPRINTER FAULT:\033[0m %s", bambu.FormatErrorCode(next.LastError))
		}
	}
	if next.IgnoreError != prev.IgnoreError && next.IgnoreError != 0 {
		printFaultLine("\033[1;33mFAULT DISMISSED:\033[0m %s", bambu.FormatErrorCode(next.IgnoreError))
	}

	if showAll {
		printFaultLine("%s", intent.FormatStatus(next))
	}
}
