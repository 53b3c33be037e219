// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bambustat/pkg/bridge"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

var (
	watchURL      string
	watchUsername string
	watchFormat   string
	watchSend     string
	watchDuration int
	watchInsecure bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a running bridge and display its frames",
	Long: `Connect to a bridge started with "serve" and print every frame it sends.

This command exercises the bridge the same way a display does. Use
--format cbor to test the compact frame encoding and --send to issue one
command after connecting. The password for --username is read from
` + BridgePasswordEnv + `.

Exit codes:
  0 - Watch completed normally
  1 - Connection lost or an error frame was received
  2 - Connection error`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchURL, "url", "u", "ws://localhost:7125/ws", "Bridge URL (ws:// or wss://)")
	watchCmd.Flags().StringVar(&watchUsername, "username", "", "Basic auth username")
	watchCmd.Flags().StringVar(&watchFormat, "format", "json", "Frame format (json or cbor)")
	watchCmd.Flags().StringVar(&watchSend, "send", "", "Command to send after connecting")
	watchCmd.Flags().IntVar(&watchDuration, "duration", 30, "Watch duration in seconds (0 runs until closed)")
	watchCmd.Flags().BoolVar(&watchInsecure, "insecure", false, "Skip TLS certificate verification")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := bridge.ParseFormat(watchFormat)
	if err != nil {
		return err
	}

	url := watchURL
	if format == bridge.FormatCBOR {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "format=cbor"
	}

	conn, err := OpenBridgeConnection(url, watchUsername, os.Getenv(BridgePasswordEnv), watchInsecure)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Bambustat - Bridge Watch\n")
	fmt.Printf("Connection: %s\n", url)
	if watchDuration > 0 {
		fmt.Printf("Duration: %d seconds\n", watchDuration)
	}
	fmt.Printf("\n")

	if watchSend != "" {
		if err := sendBridgeCommand(conn, format, watchSend); err != nil {
			fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
			os.Exit(2)
		}
	}

	frames := make(chan []byte, 16)
	errChan := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = ErrConnectionClosed
				}
				errChan <- err
				return
			}
			frames <- data
		}
	}()

	var deadline <-chan time.Time
	if watchDuration > 0 {
		deadline = time.After(time.Duration(watchDuration) * time.Second)
	}

	received := 0
	failed := false
	for {
		select {
		case data := <-frames:
			received++
			line, isError := describeFrame(format, data)
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
			if isError {
				failed = true
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			fmt.Printf("Frames received: %d\n", received)
			os.Exit(1)

		case <-deadline:
			fmt.Printf("\n--- Watch Results ---\n")
			fmt.Printf("Frames received: %d\n", received)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if failed {
				os.Exit(1)
			}
			return nil
		}
	}
}

// sendBridgeCommand sends one command frame
func sendBridgeCommand(conn *websocket.Conn, format bridge.Format, line string) error {
	frame, err := bridge.EncodeText(format, bridge.FrameCommand, line)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if format == bridge.FormatCBOR {
		messageType = websocket.BinaryMessage
	}
	return conn.WriteMessage(messageType, frame)
}

// describeFrame renders a received frame for display
func describeFrame(format bridge.Format, data []byte) (string, bool) {
	if format == bridge.FormatJSON {
		return string(data), strings.Contains(string(data), `"type":"error"`)
	}

	frameType, payload, err := bridge.ParseCBORFrame(data)
	if err != nil {
		return fmt.Sprintf("INVALID FRAME: %v", err), true
	}

	switch frameType {
	case bridge.FrameSnapshot:
		state, _ := bridge.GetMapUint(payload, bridge.KeyState)
		progress, _ := bridge.GetMapFloat(payload, bridge.KeyProgress)
		nozzle, _ := bridge.GetMapFloat(payload, bridge.KeyNozzleTemp)
		bed, _ := bridge.GetMapFloat(payload, bridge.KeyBedTemp)
		lastError, _ := bridge.GetMapUint(payload, bridge.KeyLastError)
		s := fmt.Sprintf("SNAPSHOT state=%s progress=%.0f%% nozzle=%.1f bed=%.1f",
			printer.State(state), progress*100, nozzle, bed)
		if lastError != 0 {
			s += fmt.Sprintf(" error=%08X", lastError)
		}
		return s, false
	case bridge.FrameResult:
		text, _ := payload[bridge.KeyText].(string)
		return "RESULT " + text, false
	case bridge.FrameError:
		text, _ := payload[bridge.KeyText].(string)
		return "ERROR " + text, true
	}
	return fmt.Sprintf("UNKNOWN FRAME 0x%02X", frameType), false
}
