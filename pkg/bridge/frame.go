// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Format selects the frame encoding of a connection
type Format int

// Frame formats
const (
	FormatJSON Format = iota
	FormatCBOR
)

// ParseFormat resolves the ?format= query value. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("unsupported frame format %q", s)
}

// Frame types. Commands flow from the display to the bridge; everything
// else flows the other way.
const (
	FrameCommand  uint8 = 0x10
	FrameSnapshot uint8 = 0x20
	FrameResult   uint8 = 0x21
	FrameError    uint8 = 0xE0
)

var frameNames = map[uint8]string{
	FrameCommand:  "command",
	FrameSnapshot: "snapshot",
	FrameResult:   "result",
	FrameError:    "error",
}

// Snapshot payload keys used in CBOR frames
const (
	KeyState = iota
	KeyProgress
	KeyElapsed
	KeyRemaining
	KeyLayer
	KeyTotalLayers
	KeyFilename
	KeyNozzleTemp
	KeyNozzleTarget
	KeyBedTemp
	KeyBedTarget
	KeyFan
	KeyChamberFan
	KeyAuxFan
	KeySpeedProfile
	KeySpeedMult
	KeyLastError
	KeyIgnoreError
	KeyCapabilities
	KeyFaultActive
)

// Result and command payloads carry their text under key 0
const KeyText = 0

// Capability bits in KeyCapabilities
const (
	CapChamberLight uint64 = 1 << iota
	CapChamberLightOn
	CapWorkLight
	CapWorkLightOn
	CapAMS
)

// snapshotView is the JSON form of a snapshot frame
type snapshotView struct {
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	ElapsedSec   int64   `json:"elapsed_s"`
	RemainingSec int64   `json:"remaining_s"`
	Layer        int     `json:"layer"`
	TotalLayers  int     `json:"total_layers"`
	Filename     string  `json:"filename"`
	NozzleTemp   float64 `json:"nozzle_temp"`
	NozzleTarget float64 `json:"nozzle_target"`
	BedTemp      float64 `json:"bed_temp"`
	BedTarget    float64 `json:"bed_target"`
	Fan          float64 `json:"fan"`
	ChamberFan   float64 `json:"chamber_fan"`
	AuxFan       float64 `json:"aux_fan"`
	SpeedProfile string  `json:"speed_profile"`
	SpeedMult    float64 `json:"speed_mult"`
	LastError    uint32  `json:"last_error"`
	IgnoreError  uint32  `json:"ignore_error"`
	ChamberLight *bool   `json:"chamber_light,omitempty"`
	WorkLight    *bool   `json:"work_light,omitempty"`
	HasAMS       bool    `json:"has_ams"`
	FaultActive  bool    `json:"fault_active"`
}

type jsonFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Text string          `json:"text,omitempty"`
}

// EncodeSnapshot renders a snapshot frame
func EncodeSnapshot(f Format, s printer.Snapshot) ([]byte, error) {
	faultActive := s.LastError != 0 && s.IgnoreError != s.LastError

	if f == FormatCBOR {
		var caps uint64
		if s.Capabilities.ChamberLightAvailable {
			caps |= CapChamberLight
		}
		if s.Capabilities.ChamberLightOn {
			caps |= CapChamberLightOn
		}
		if s.Capabilities.WorkLightAvailable {
			caps |= CapWorkLight
		}
		if s.Capabilities.WorkLightOn {
			caps |= CapWorkLightOn
		}
		if s.Capabilities.HasAMS {
			caps |= CapAMS
		}
		return encodeCBORFrame(FrameSnapshot, map[int]interface{}{
			KeyState:        uint64(s.State),
			KeyProgress:     s.PrintProgress,
			KeyElapsed:      uint64(s.ElapsedTime.Seconds()),
			KeyRemaining:    uint64(s.RemainingTime.Seconds()),
			KeyLayer:        uint64(s.CurrentLayer),
			KeyTotalLayers:  uint64(s.TotalLayers),
			KeyFilename:     s.PrintFilename,
			KeyNozzleTemp:   s.ExtruderTemp,
			KeyNozzleTarget: s.ExtruderTargetTemp,
			KeyBedTemp:      s.BedTemp,
			KeyBedTarget:    s.BedTargetTemp,
			KeyFan:          s.FanSpeed,
			KeyChamberFan:   s.ChamberFanSpeed,
			KeyAuxFan:       s.AuxFanSpeed,
			KeySpeedProfile: uint64(s.SpeedProfile),
			KeySpeedMult:    s.SpeedMult,
			KeyLastError:    uint64(s.LastError),
			KeyIgnoreError:  uint64(s.IgnoreError),
			KeyCapabilities: caps,
			KeyFaultActive:  faultActive,
		})
	}

	v := snapshotView{
		State:        s.State.String(),
		Progress:     s.PrintProgress,
		ElapsedSec:   int64(s.ElapsedTime.Seconds()),
		RemainingSec: int64(s.RemainingTime.Seconds()),
		Layer:        s.CurrentLayer,
		TotalLayers:  s.TotalLayers,
		Filename:     s.PrintFilename,
		NozzleTemp:   s.ExtruderTemp,
		NozzleTarget: s.ExtruderTargetTemp,
		BedTemp:      s.BedTemp,
		BedTarget:    s.BedTargetTemp,
		Fan:          s.FanSpeed,
		ChamberFan:   s.ChamberFanSpeed,
		AuxFan:       s.AuxFanSpeed,
		SpeedProfile: s.SpeedProfile.String(),
		SpeedMult:    s.SpeedMult,
		LastError:    s.LastError,
		IgnoreError:  s.IgnoreError,
		HasAMS:       s.Capabilities.HasAMS,
		FaultActive:  faultActive,
	}
	if s.Capabilities.ChamberLightAvailable {
		on := s.Capabilities.ChamberLightOn
		v.ChamberLight = &on
	}
	if s.Capabilities.WorkLightAvailable {
		on := s.Capabilities.WorkLightOn
		v.WorkLight = &on
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonFrame{Type: frameNames[FrameSnapshot], Data: data})
}

// EncodeText renders a result or error frame
func EncodeText(f Format, frameType uint8, text string) ([]byte, error) {
	if _, ok := frameNames[frameType]; !ok {
		return nil, fmt.Errorf("unknown frame type 0x%02X", frameType)
	}
	if f == FormatCBOR {
		return encodeCBORFrame(frameType, map[int]interface{}{KeyText: text})
	}
	return json.Marshal(jsonFrame{Type: frameNames[frameType], Text: text})
}

// DecodeCommand extracts the command line from a frame sent by a display.
// JSON connections may also send the bare command as a text message, which
// the caller passes straight through.
func DecodeCommand(f Format, data []byte) (string, error) {
	if f == FormatCBOR {
		frameType, payload, err := ParseCBORFrame(data)
		if err != nil {
			return "", err
		}
		if frameType != FrameCommand {
			return "", fmt.Errorf("expected command frame, got 0x%02X", frameType)
		}
		line, ok := getMapString(payload, KeyText)
		if !ok {
			return "", fmt.Errorf("command frame has no text")
		}
		return line, nil
	}

	var fr jsonFrame
	if err := json.Unmarshal(data, &fr); err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}
	if fr.Type != frameNames[FrameCommand] {
		return "", fmt.Errorf("expected command frame, got %q", fr.Type)
	}
	if fr.Text == "" {
		return "", fmt.Errorf("command frame has no text")
	}
	return fr.Text, nil
}

// encodeCBORFrame creates the CBOR message [frame_type, payload_map]
func encodeCBORFrame(frameType uint8, payload map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(payload) == 0 {
		msg = []interface{}{uint64(frameType), nil}
	} else {
		msg = []interface{}{uint64(frameType), payload}
	}
	return cbor.Marshal(msg)
}

// ParseCBORFrame parses a CBOR frame: [frame_type, payload_map].
// Returns the frame type and decoded payload map (nil for empty payloads).
func ParseCBORFrame(data []byte) (frameType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR frame")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	v, ok := msg[0].(uint64)
	if !ok {
		return 0, nil, fmt.Errorf("expected uint for frame type, got %T", msg[0])
	}
	if v > 255 {
		return 0, nil, fmt.Errorf("frame type out of range: %d", v)
	}
	frameType = uint8(v)

	if msg[1] == nil {
		return frameType, nil, nil
	}

	m, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}
	payload = make(map[int]interface{}, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return frameType, payload, nil
}

// GetMapUint extracts a uint64 from a CBOR payload by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR payload by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	switch val := m[key].(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

func getMapString(m map[int]interface{}, key int) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}
