// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/intent"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var (
	portName   string
	baudRate   int
	pushStatus bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Serve a line-based command console on a serial port",
	Long: `Accept text commands from a serial device (for example a small
touchscreen controller) and answer each with one result line.

Every line received is run as a command against the active printer; the
reply is "ok <result>" or "err <reason>". Multi-line results are sent line
by line and terminated with a lone ".".

With --push-status a "status <summary>" line is sent on every state change.

Type "help" on the console for the command list.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&portName, "port", "p", "", "Serial port (e.g. /dev/ttyUSB0)")
	consoleCmd.Flags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate")
	consoleCmd.Flags().BoolVar(&pushStatus, "push-status", false, "Send a status line on every state change")
	consoleCmd.MarkFlagRequired("port")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}

	port, err := OpenSerialPort(portName, baudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mgr, p, err := connectActive(ctx, cfg)
	if p == nil {
		return err
	}
	defer mgr.Close()
	if err != nil {
		log.WithError(err).Warn("initial connect failed, retrying in background")
	}

	pc := cfg.Printers[cfg.Active]
	go pollPrinter(ctx, p, pc.PollInterval(), time.Duration(pc.ConnectTimeoutMs)*time.Millisecond)

	log.WithFields(log.Fields{
		"port":    portName,
		"baud":    baudRate,
		"printer": connectionInfo(cfg),
	}).Info("console started")

	out := &consoleWriter{w: port}
	if pushStatus {
		var last string
		unsubscribe := p.Subscribe(func(s printer.Snapshot) {
			line := intent.FormatStatus(s)
			if line == last {
				return
			}
			last = line
			out.writeLines("status " + line)
		})
		defer unsubscribe()
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readConsoleLines(port, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			out.writeLines(runConsoleCommand(ctx, p, line)...)
		}
	}
}

// readConsoleLines forwards each non-empty line until r fails
func readConsoleLines(r io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines <- line
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read failed: %w", err)
	}
	return io.EOF
}

// runConsoleCommand runs one line and returns the reply lines
func runConsoleCommand(ctx context.Context, p printer.Printer, line string) []string {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := intent.Run(ctx, p, line)
	if err != nil {
		log.WithError(err).WithField("command", line).Debug("console command failed")
		return []string{"err " + err.Error()}
	}
	result := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(result) == 1 {
		return []string{"ok " + result[0]}
	}
	return append(append([]string{"ok"}, result...), ".")
}

// consoleWriter serializes replies and status pushes
type consoleWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleWriter) writeLines(lines ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(c.w, line+"\r\n"); err != nil {
			log.WithError(err).Warn("serial write failed")
			return
		}
	}
}
