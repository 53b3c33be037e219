// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Request is a structured command before encoding: one envelope object
// ("print", "system", "pushing") holding the command fields.
// Request builder functions below are convenience wrappers that ensure the
// fields each command needs are present.
type Request struct {
	Envelope string
	Fields   map[string]interface{}
}

// Command returns the command name carried by the request
func (r Request) Command() string {
	if s, ok := r.Fields["command"].(string); ok {
		return s
	}
	return ""
}

func newRequest(envelope, command string) Request {
	return Request{
		Envelope: envelope,
		Fields: map[string]interface{}{
			"command": command,
		},
	}
}

// NewPushAllRequest asks the printer to publish a full status document.
func NewPushAllRequest() Request {
	return newRequest(EnvelopePushing, CmdPushAll)
}

// NewPauseRequest pauses the running print.
func NewPauseRequest() Request {
	return newRequest(EnvelopePrint, CmdPause)
}

// NewResumeRequest resumes a paused print. It is also the "continue"
// action for advisory faults.
func NewResumeRequest() Request {
	return newRequest(EnvelopePrint, CmdResume)
}

// NewStopRequest cancels the running print.
func NewStopRequest() Request {
	return newRequest(EnvelopePrint, CmdStop)
}

// NewGCodeLineRequest forwards raw G-code. Lines are passed through
// untouched apart from guaranteeing a trailing newline.
func NewGCodeLineRequest(gcode string) Request {
	if !strings.HasSuffix(gcode, "\n") {
		gcode += "\n"
	}
	r := newRequest(EnvelopePrint, CmdGCodeLine)
	r.Fields["param"] = gcode
	return r
}

// NewPrintSpeedRequest selects a speed profile (1 silent .. 4 ludicrous).
func NewPrintSpeedRequest(level int) Request {
	r := newRequest(EnvelopePrint, CmdPrintSpeed)
	r.Fields["param"] = strconv.Itoa(level)
	return r
}

// NewCleanPrintErrorRequest acknowledges a printer fault so the printer
// stops reporting it.
func NewCleanPrintErrorRequest(code uint32) Request {
	r := newRequest(EnvelopePrint, CmdCleanPrintError)
	r.Fields["print_error"] = code
	r.Fields["subtask_id"] = ""
	return r
}

// NewLightRequest switches the chamber or work light.
func NewLightRequest(node string, on bool) Request {
	mode := "off"
	if on {
		mode = "on"
	}
	r := newRequest(EnvelopeSystem, CmdLedCtrl)
	r.Fields["led_node"] = node
	r.Fields["led_mode"] = mode
	r.Fields["led_on_time"] = 500
	r.Fields["led_off_time"] = 500
	r.Fields["loop_times"] = 0
	r.Fields["interval_time"] = 0
	return r
}

// NewStartFileRequest starts printing a file from the SD card. Project
// archives (.3mf) print their first plate; plain G-code files are started
// directly.
func NewStartFileRequest(filename string) (Request, error) {
	name := strings.TrimPrefix(filename, "/")
	if name == "" {
		return Request{}, fmt.Errorf("empty filename")
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".3mf":
		r := newRequest(EnvelopePrint, CmdProjectFile)
		r.Fields["param"] = projectPlate
		r.Fields["url"] = "file://" + sdcardRoot + name
		r.Fields["subtask_name"] = strings.TrimSuffix(path.Base(name), path.Ext(name))
		r.Fields["bed_type"] = "auto"
		r.Fields["timelapse"] = false
		r.Fields["bed_leveling"] = true
		r.Fields["flow_cali"] = false
		r.Fields["vibration_cali"] = true
		r.Fields["layer_inspect"] = false
		r.Fields["use_ams"] = false
		r.Fields["profile_id"] = "0"
		r.Fields["project_id"] = "0"
		r.Fields["subtask_id"] = "0"
		r.Fields["task_id"] = "0"
		return r, nil
	case ".gcode":
		r := newRequest(EnvelopePrint, CmdGCodeFile)
		r.Fields["param"] = sdcardRoot + name
		return r, nil
	}
	return Request{}, fmt.Errorf("unsupported print file type: %s", filename)
}
