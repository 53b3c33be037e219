// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/internal/config"
	"github.com/Thermoquad/bambustat/internal/logging"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and controlling printers",
	Long: `Monitor and control Bambu Lab printers via an interactive terminal UI.

Features:
  - Live print status, temperatures and fans
  - Printer fault popup with the recovery actions the printer offers
  - Command line (press ':') accepting the same commands as the console
  - Switching between configured printers ('n')
  - Event logging
  - Automatic reconnection on connection loss

Log output is written to the log_file from the config (discarded when
unset) so it does not corrupt the screen.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// pollManager owns the polling goroutine. It connects the selected printer,
// fetches telemetry at the configured interval and reconnects with
// exponential backoff when the session drops.
type pollManager struct {
	mgr      *printer.Manager
	cfg      *config.Config
	p        *tea.Program
	done     chan struct{}
	switchTo chan int
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, true); err != nil {
		return err
	}

	restore, err := logging.RedirectToFile(cfg.LogFile)
	if err != nil {
		return err
	}
	defer restore()

	pm := &pollManager{
		mgr:      buildManager(cfg),
		cfg:      cfg,
		done:     make(chan struct{}),
		switchTo: make(chan int, 1),
	}
	defer pm.mgr.Close()

	m := initialMonitorModel(pm, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	pm.p = p

	go pm.run(cfg.Active)

	_, err = p.Run()
	close(pm.done)
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// requestSwitch asks the polling goroutine to select another printer. A
// pending request is replaced.
func (pm *pollManager) requestSwitch(index int) {
	select {
	case <-pm.switchTo:
	default:
	}
	pm.switchTo <- index
}

// active returns the selected printer
func (pm *pollManager) active() (printer.Printer, error) {
	p, _, err := pm.mgr.Active()
	return p, err
}

func (pm *pollManager) run(index int) {
	for {
		next, ok := pm.session(index)
		if !ok {
			return
		}
		index = next
	}
}

// session selects the printer at index and polls it until shutdown or a
// switch request. It returns the next printer index and false on shutdown.
func (pm *pollManager) session(index int) (int, bool) {
	pc := pm.cfg.Printers[index]
	pm.p.Send(selectedMsg{index: index, connInfo: fmt.Sprintf("%s:%d", pc.Host, pc.Port)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pc.ConnectTimeoutMs)*time.Millisecond)
	p, err := pm.mgr.Switch(ctx, index)
	cancel()
	if p == nil {
		pm.p.Send(connectionLostMsg{err: err})
		return pm.idle()
	}

	unsubscribe := p.Subscribe(func(s printer.Snapshot) {
		pm.p.Send(snapshotMsg{snap: s, faults: p.Faults()})
	})
	defer unsubscribe()

	if err != nil {
		pm.p.Send(connectionLostMsg{err: err})
		if next, ok, switched := pm.reconnect(p, pc); switched || !ok {
			return next, ok
		}
	}
	pm.p.Send(reconnectedMsg{features: p.ErrorScreenFeatures()})

	ticker := time.NewTicker(pc.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-pm.done:
			return 0, false
		case next := <-pm.switchTo:
			return next, true
		case <-ticker.C:
			if p.Fetch() {
				continue
			}
			pm.p.Send(connectionLostMsg{})
			if next, ok, switched := pm.reconnect(p, pc); switched || !ok {
				return next, ok
			}
			pm.p.Send(reconnectedMsg{features: p.ErrorScreenFeatures()})
		}
	}
}

// idle waits for a switch request or shutdown
func (pm *pollManager) idle() (int, bool) {
	select {
	case <-pm.done:
		return 0, false
	case next := <-pm.switchTo:
		return next, true
	}
}

// reconnect attempts to reconnect with exponential backoff. It returns
// switched when the user selected another printer meanwhile and ok=false
// when shutdown was requested.
func (pm *pollManager) reconnect(p printer.Printer, pc config.PrinterConfig) (next int, ok, switched bool) {
	p.Disconnect()

	backoff := minBackoff
	for {
		select {
		case <-pm.done:
			return 0, false, false
		case next := <-pm.switchTo:
			return next, true, true
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pc.ConnectTimeoutMs)*time.Millisecond)
		err := p.Connect(ctx)
		cancel()
		if err == nil {
			return 0, true, false
		}
		pm.p.Send(reconnectFailedMsg{err: err, retryIn: nextBackoff(backoff)})

		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles d up to maxBackoff
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
