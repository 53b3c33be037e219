// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bambu"
)

var discoverTimeout int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover printers on the local network",
	Long: `Listen for Bambu Lab printer announcements on the local network.

Printers in LAN mode broadcast SSDP NOTIFY messages on UDP ports 2021 and
1990 every few seconds. A search request is broadcast once at start to
speed things up.

The serial number and address printed for each printer can be used
directly with --serial and --host.

Exit codes:
  0 - Discovery successful (at least one printer found)
  1 - No printers found before timeout
  2 - Discovery ports could not be opened`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 10, "Timeout in seconds for discovery")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	fmt.Printf("Bambustat - Printer Discovery\n")
	fmt.Printf("Ports: %v\n", bambu.DiscoveryPorts)
	fmt.Printf("Timeout: %d seconds\n\n", discoverTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(discoverTimeout)*time.Second)
	defer cancel()

	printers, err := bambu.Discover(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}

	for _, p := range printers {
		fmt.Printf("Printer found:\n")
		fmt.Printf("  Name: %s\n", p.Name)
		fmt.Printf("  Serial: %s\n", p.Serial)
		fmt.Printf("  Address: %s\n", p.Host)
		fmt.Printf("  Model: %s\n", p.Model)
		if p.Connect != "" {
			fmt.Printf("  Mode: %s\n", p.Connect)
		}
		if p.Signal != "" {
			fmt.Printf("  Signal: %s dBm\n", p.Signal)
		}
		fmt.Println()
	}

	// Summary
	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Printers found: %d\n", len(printers))

	if len(printers) == 0 {
		fmt.Printf("No printers discovered. Check that LAN mode is enabled.\n")
		os.Exit(1)
	}
	return nil
}
