// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bridge"
	"github.com/Thermoquad/bambustat/pkg/intent"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// BridgePasswordEnv holds the Basic auth password of the bridge
const BridgePasswordEnv = "BAMBUSTAT_BRIDGE_PASSWORD"

var (
	serveListen   string
	servePath     string
	serveUsername string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve printer state to displays over WebSocket",
	Long: `Run a WebSocket bridge that pushes the active printer's state to
connected displays and accepts text commands from them.

Every client receives the latest snapshot on connect and a new snapshot on
every state change. Commands use the same syntax as the console.

Frames are JSON by default; connect with ?format=cbor for compact CBOR
frames on small displays.

With --username set, clients must authenticate with HTTP Basic auth. The
password is read from ` + BridgePasswordEnv + `.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", ":7125", "Listen address")
	serveCmd.Flags().StringVar(&servePath, "path", "/ws", "WebSocket endpoint path")
	serveCmd.Flags().StringVar(&serveUsername, "username", "", "Basic auth username (password from "+BridgePasswordEnv+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveAccessCodes(cfg, false); err != nil {
		return err
	}

	var opts []bridge.Option
	opts = append(opts, bridge.WithLogger(log.StandardLogger()))
	if serveUsername != "" {
		password := os.Getenv(BridgePasswordEnv)
		if password == "" {
			return fmt.Errorf("--username requires %s", BridgePasswordEnv)
		}
		opts = append(opts, bridge.WithBasicAuth(serveUsername, password))
	}

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

	srv := bridge.New(func(ctx context.Context, line string) (string, error) {
		return intent.Run(ctx, p, line)
	}, opts...)
	defer srv.Close()

	unsubscribe := p.Subscribe(srv.Broadcast)
	defer unsubscribe()
	srv.Broadcast(p.Snapshot())

	mux := http.NewServeMux()
	mux.Handle(servePath, srv)
	httpServer := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	log.WithFields(log.Fields{
		"listen":  serveListen,
		"path":    servePath,
		"printer": connectionInfo(cfg),
	}).Info("bridge started")

	go pollPrinter(ctx, p, cfg.Printers[cfg.Active].PollInterval(),
		time.Duration(cfg.Printers[cfg.Active].ConnectTimeoutMs)*time.Millisecond)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// pollPrinter fetches telemetry until ctx is done, reconnecting with
// exponential backoff whenever the session drops.
func pollPrinter(ctx context.Context, p printer.Printer, interval, connectTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoff := minBackoff
	var retryAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if p.Fetch() {
			backoff = minBackoff
			retryAt = time.Time{}
			continue
		}
		if retryAt.IsZero() {
			log.WithField("retry_in", backoff).Warn("printer connection lost")
			retryAt = time.Now().Add(backoff)
		}
		if time.Now().Before(retryAt) {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := p.Connect(cctx)
		cancel()
		if err == nil {
			log.Info("printer reconnected")
			continue
		}
		backoff = nextBackoff(backoff)
		log.WithError(err).WithField("retry_in", backoff).Warn("reconnect failed")
		retryAt = time.Now().Add(backoff)
	}
}
