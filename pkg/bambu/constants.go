// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bambu implements the printer.Printer contract for Bambu Lab
// printers in LAN mode.
//
// The printer exposes an MQTT broker over TLS. Telemetry is pushed as sparse
// JSON documents on device/<serial>/report and commands are JSON documents
// published on device/<serial>/request. Print files live on the printer's
// SD card and are reachable over implicit FTPS with the same credentials.
//
// The package is split the same way the wire is: the codec (commands.go,
// encoder.go, decoder.go, files.go, thumbnail.go) is pure, state.go merges
// telemetry into a printer.Snapshot, recovery.go tracks printer faults,
// dispatch.go turns intents into commands and printer.go composes them over
// a Transport.
package bambu

import "time"

// Network defaults
const (
	DefaultMQTTPort = 8883
	DefaultFTPSPort = 990
	Username        = "bblp"
)

// Timing defaults
const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultFileTimeout    = 10 * time.Second
	DefaultMaxFiles       = 20
)

// Motion and extrusion defaults
const (
	DefaultExtrudeMM       = 25
	DefaultExtrudeFeedrate = 300  // mm/min
	DefaultMoveFeedrate    = 6000 // mm/min
	DefaultZMoveFeedrate   = 600  // mm/min
)

// Topic formats
const (
	reportTopicFormat  = "device/%s/report"
	requestTopicFormat = "device/%s/request"
)

// Envelope keys - top level objects of every document
const (
	EnvelopePrint   = "print"
	EnvelopePushing = "pushing"
	EnvelopeSystem  = "system"
	EnvelopeInfo    = "info"
)

// Command names carried in the "command" field
const (
	CmdPushAll         = "pushall"
	CmdPause           = "pause"
	CmdResume          = "resume"
	CmdStop            = "stop"
	CmdGCodeLine       = "gcode_line"
	CmdPrintSpeed      = "print_speed"
	CmdCleanPrintError = "clean_print_error"
	CmdProjectFile     = "project_file"
	CmdGCodeFile       = "gcode_file"
	CmdLedCtrl         = "ledctrl"
	CmdPushStatus      = "push_status"
)

// gcode_state values reported in telemetry
const (
	GCodeStateIdle    = "IDLE"
	GCodeStatePrepare = "PREPARE"
	GCodeStateRunning = "RUNNING"
	GCodeStatePause   = "PAUSE"
	GCodeStateFinish  = "FINISH"
	GCodeStateFailed  = "FAILED"
	GCodeStateSlicing = "SLICING"
)

// LED nodes
const (
	LightChamber = "chamber_light"
	LightWork    = "work_light"
)

// Power device names exposed to collaborators
const (
	PowerChamberLight = "Chamber Light"
	PowerWorkLight    = "Work Light"
)

// Fan speeds are reported on a 0..15 scale
const fanSpeedScale = 15.0

// SD card paths
const (
	sdcardRoot     = "/sdcard/"
	projectPlate   = "Metadata/plate_1.gcode"
	thumbnailSize  = 32
	maxArchiveSize = 64 << 20
)
