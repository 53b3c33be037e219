// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/bambu/transport"
)

var rawJSON bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telemetry in human-readable format",
	Long: `Continuously decode and display telemetry documents as they arrive.

This command bypasses state tracking and prints each report document from the
printer with a timestamp and every field it carried. Use --json to print the
documents exactly as received.

A full status push is requested after connecting.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawJSON, "json", false, "Print documents as received")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}
	pc := cfg.Printers[cfg.Active]
	bc := pc.ToBambu()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session := transport.NewSession(bc.TransportConfig(log.StandardLogger()))
	cctx, cancel := context.WithTimeout(ctx, bc.ConnectTimeout)
	err = session.Connect(cctx)
	cancel()
	if err != nil {
		return err
	}
	defer session.Disconnect()

	if err := session.Subscribe(bambu.ReportTopic(bc.Serial)); err != nil {
		return err
	}
	pushall := bambu.NewEncoder(bc.Serial).MustEncode(bambu.NewPushAllRequest())
	if !session.Publish(pushall.Topic, pushall.Payload) {
		log.Warn("pushall request not sent")
	}

	fmt.Printf("Bambustat - Raw Telemetry Log\n")
	fmt.Printf("Printer: %s\n", connectionInfo(cfg))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ticker := time.NewTicker(pc.PollInterval())
	defer ticker.Stop()

	var dropped uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !session.Connected() {
			log.Printf("Connection closed")
			return nil
		}
		if d := session.Dropped(); d > dropped {
			fmt.Printf("[WARN] %d documents dropped\n", d-dropped)
			dropped = d
		}

		for _, payload := range session.Drain() {
			if rawJSON {
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), payload)
				continue
			}
			t, err := bambu.DecodeTelemetry(payload)
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			fmt.Print(bambu.FormatTelemetry(t))
		}
	}
}
