// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package printer defines the capability contract shared by every supported
// printer family, together with the normalized state snapshot that
// presentation collaborators read.
//
// A family implementation (see package bambu) composes its own transport,
// codec, state merge and command dispatch behind the Printer interface.
// Collaborators never mutate a Snapshot; every change goes through a
// Printer method and is observed on the next Fetch.
package printer

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Errors shared by printer implementations
var (
	ErrUnsupported = errors.New("printer: operation not supported")
	ErrNoPrinter   = errors.New("printer: no printer selected")
)

// Feature is a user-invokable printer capability. Features form a bitset.
type Feature uint32

// Feature values
const (
	FeatureHome Feature = 1 << iota
	FeatureDisableSteppers
	FeaturePause
	FeatureResume
	FeatureStop
	FeatureEmergencyStop
	FeatureCooldown
	FeatureContinueError
	FeatureIgnoreError
	FeatureRetryError
	FeatureExtrude
	FeatureRetract
	FeatureLoadFilament
	FeatureUnloadFilament
)

var featureNames = []struct {
	feature Feature
	name    string
}{
	{FeatureHome, "home"},
	{FeatureDisableSteppers, "disable_steppers"},
	{FeaturePause, "pause"},
	{FeatureResume, "resume"},
	{FeatureStop, "stop"},
	{FeatureEmergencyStop, "emergency_stop"},
	{FeatureCooldown, "cooldown"},
	{FeatureContinueError, "continue_error"},
	{FeatureIgnoreError, "ignore_error"},
	{FeatureRetryError, "retry_error"},
	{FeatureExtrude, "extrude"},
	{FeatureRetract, "retract"},
	{FeatureLoadFilament, "load_filament"},
	{FeatureUnloadFilament, "unload_filament"},
}

// Has reports whether every bit of f is present in the set.
func (s Feature) Has(f Feature) bool {
	return f != 0 && s&f == f
}

// String returns the snake_case name of a single feature, or a
// comma-separated list for a set.
func (s Feature) String() string {
	var names []string
	for _, fn := range featureNames {
		if s&fn.feature != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseFeature resolves a feature name (as produced by String).
func ParseFeature(name string) (Feature, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	for _, fn := range featureNames {
		if fn.name == name {
			return fn.feature, true
		}
	}
	return 0, false
}

// Features returns the individual features contained in the set, in
// declaration order.
func (s Feature) Features() []Feature {
	var out []Feature
	for _, fn := range featureNames {
		if s&fn.feature != 0 {
			out = append(out, fn.feature)
		}
	}
	return out
}

// TemperatureDevice identifies a heater whose target can be set. Devices
// form a bitset.
type TemperatureDevice uint8

// Temperature device values
const (
	TemperatureNozzle1 TemperatureDevice = 1 << iota
	TemperatureNozzle2
	TemperatureBed
	TemperatureChamber
)

// String returns the device name
func (d TemperatureDevice) String() string {
	switch d {
	case TemperatureNozzle1:
		return "nozzle"
	case TemperatureNozzle2:
		return "nozzle2"
	case TemperatureBed:
		return "bed"
	case TemperatureChamber:
		return "chamber"
	}
	return "unknown"
}

// Has reports whether d is contained in the set.
func (s TemperatureDevice) Has(d TemperatureDevice) bool {
	return d != 0 && s&d == d
}

// ParseTemperatureDevice resolves a heater name. "nozzle", "nozzle1",
// "extruder" and "hotend" all name the first nozzle.
func ParseTemperatureDevice(name string) (TemperatureDevice, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nozzle", "nozzle1", "extruder", "hotend":
		return TemperatureNozzle1, true
	case "nozzle2", "extruder1":
		return TemperatureNozzle2, true
	case "bed", "heater_bed":
		return TemperatureBed, true
	case "chamber":
		return TemperatureChamber, true
	}
	return 0, false
}

// ConnectionResult is the outcome of a connection test.
type ConnectionResult int

// Connection results
const (
	ConnectFail ConnectionResult = iota
	ConnectOK
	ConnectSerialFail
)

func (r ConnectionResult) String() string {
	switch r {
	case ConnectOK:
		return "ok"
	case ConnectSerialFail:
		return "serial number mismatch"
	}
	return "connection failed"
}

// Command is one encoded, fire-and-forget outgoing message. Nothing is
// retained after it is sent; its effect is observed in later telemetry.
type Command struct {
	Name    string
	Topic   string
	Payload []byte
}

// File is one entry of a printer file listing.
type File struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Thumbnail is a 32x32 PNG preview of a print file.
type Thumbnail struct {
	PNG []byte
}

// Macro is a named, printer-side action.
type Macro struct {
	Name        string
	Description string
}

// PowerDevice is a switchable outlet or light. Locked devices are
// reported but refuse state changes (for example while printing).
type PowerDevice struct {
	Name   string
	On     bool
	Locked bool
}

// Minimal is the cheap polling summary returned by FetchMin.
type Minimal struct {
	Success       bool
	State         State
	PrintProgress float64
	PowerDevices  int
}

// FaultStatus exposes the printer-reported fault bookkeeping.
type FaultStatus struct {
	LastError    uint32
	IgnoreError  uint32
	Acknowledged bool
}

// Active reports whether a fault is present and not yet dismissed.
func (f FaultStatus) Active() bool {
	return f.LastError != 0 && !f.Acknowledged
}

// Printer is the capability contract every printer family implements.
//
// All methods except Connect are non-blocking or bounded by the
// implementation's configured timeouts. Implementations are driven from a
// single polling goroutine; Snapshot and Subscribe are safe to use from
// other goroutines.
type Printer interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool

	// Fetch drains pending telemetry into the snapshot. It returns false
	// only when the session is down.
	Fetch() bool
	FetchMin() Minimal
	Snapshot() Snapshot
	Faults() FaultStatus
	Subscribe(fn func(Snapshot)) (cancel func())

	SupportedFeatures() Feature
	ErrorScreenFeatures() Feature
	SupportedTemperatureDevices() TemperatureDevice
	NoConfirmPrintFile() bool

	ExecuteFeature(f Feature) bool
	MovePrinter(axis string, amount float64, relative bool) bool
	SetTargetTemperature(device TemperatureDevice, temperature uint) bool
	SendGCode(gcode string, wait bool) bool

	Macros() []Macro
	ExecuteMacro(name string) bool
	PowerDevices() []PowerDevice
	SetPowerDeviceState(name string, on bool) bool

	Files(ctx context.Context) ([]File, error)
	StartFile(name string) bool
	Thumbnail(ctx context.Context, name string) (Thumbnail, error)
}
