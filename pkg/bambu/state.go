// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"math"
	"time"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// StateParser merges telemetry deltas into a snapshot. Besides the
// snapshot it remembers the state the printer itself reported (the fault
// state may mask it) and the instant the current print started.
//
// A StateParser is not safe for concurrent use.
type StateParser struct {
	reported   printer.State
	printStart time.Time
	subtask    string
}

// NewStateParser returns a parser for a printer that has not reported yet
func NewStateParser() *StateParser {
	return &StateParser{reported: printer.StateOffline}
}

// Reset forgets everything learned from previous telemetry
func (sp *StateParser) Reset() {
	sp.reported = printer.StateOffline
	sp.printStart = time.Time{}
	sp.subtask = ""
}

// ReportedState maps a gcode_state value to a coarse state. ok is false
// for values the parser does not know; those leave the state unchanged.
func ReportedState(gcodeState string) (printer.State, bool) {
	switch gcodeState {
	case GCodeStateRunning, GCodeStatePrepare:
		return printer.StatePrinting, true
	case GCodeStatePause:
		return printer.StatePaused, true
	case GCodeStateIdle, GCodeStateFinish, GCodeStateFailed, GCodeStateSlicing:
		return printer.StateIdle, true
	}
	return 0, false
}

// Merge applies one delta to prev and returns the new snapshot. Fields the
// delta does not carry keep their previous value. An empty delta returns
// prev unchanged.
func (sp *StateParser) Merge(prev printer.Snapshot, t *Telemetry, now time.Time) printer.Snapshot {
	if t == nil || t.Empty() {
		return prev
	}
	next := prev
	next.UpdatedAt = now

	// Only the code is recorded here. Dismissals are kept by the
	// RecoveryTracker and copied in by the caller.
	if t.PrintError != nil {
		next.LastError = *t.PrintError
	}

	// Reported state and print boundaries
	prevReported := sp.reported
	reported := prevReported
	if t.GCodeState != nil {
		if s, ok := ReportedState(*t.GCodeState); ok {
			reported = s
		}
	} else if reported == printer.StateOffline {
		reported = printer.StateIdle
	}

	// subtask_name names the job; gcode_file only fills in when no job
	// name has been seen.
	subtask := ""
	if t.SubtaskName != nil {
		subtask = *t.SubtaskName
	}

	printing := reported == printer.StatePrinting || reported == printer.StatePaused
	newPrint := reported == printer.StatePrinting &&
		(prevReported == printer.StateIdle || prevReported == printer.StateOffline)
	if printing && subtask != "" && sp.subtask != "" && subtask != sp.subtask {
		newPrint = true
	}

	if subtask != "" {
		sp.subtask = subtask
		next.PrintFilename = subtask
	} else if t.GCodeFile != nil && *t.GCodeFile != "" && sp.subtask == "" {
		next.PrintFilename = *t.GCodeFile
	}

	if newPrint {
		sp.printStart = now
		next.PrintProgress = 0
		next.ElapsedTime = 0
		next.CurrentLayer = 0
	}

	// Progress only ratchets upward while the same print runs
	if t.Percent != nil {
		p := clamp01(*t.Percent / 100)
		if printing && !newPrint && p < next.PrintProgress {
			p = next.PrintProgress
		}
		next.PrintProgress = p
	}
	if t.RemainingTime != nil {
		next.RemainingTime = *t.RemainingTime
	}
	if t.Layer != nil {
		next.CurrentLayer = *t.Layer
	}
	if t.TotalLayers != nil {
		next.TotalLayers = *t.TotalLayers
	}

	if printing {
		if sp.printStart.IsZero() {
			// Connected in the middle of a print
			sp.printStart = now
		}
		next.ElapsedTime = now.Sub(sp.printStart)
	} else {
		sp.printStart = time.Time{}
	}

	// Thermal
	if t.NozzleTemp != nil {
		next.ExtruderTemp = *t.NozzleTemp
	}
	if t.NozzleTargetTemp != nil {
		next.ExtruderTargetTemp = *t.NozzleTargetTemp
	}
	if t.BedTemp != nil {
		next.BedTemp = *t.BedTemp
	}
	if t.BedTargetTemp != nil {
		next.BedTargetTemp = *t.BedTargetTemp
	}
	if t.CoolingFan != nil {
		next.FanSpeed = clamp01(*t.CoolingFan / fanSpeedScale)
	}
	if t.AuxFan != nil {
		next.AuxFanSpeed = clamp01(*t.AuxFan / fanSpeedScale)
	}
	if t.ChamberFan != nil {
		next.ChamberFanSpeed = clamp01(*t.ChamberFan / fanSpeedScale)
	}

	// Tuning
	if t.SpeedLevel != nil {
		if lvl := printer.SpeedProfile(*t.SpeedLevel); lvl >= printer.SpeedSilent && lvl <= printer.SpeedLudicrous {
			next.SpeedProfile = lvl
		}
	}
	if t.SpeedMagnitude != nil && *t.SpeedMagnitude > 0 {
		next.SpeedMult = *t.SpeedMagnitude / 100
	}

	// Capabilities
	for _, l := range t.Lights {
		switch l.Node {
		case LightChamber:
			next.Capabilities.ChamberLightAvailable = true
			next.Capabilities.ChamberLightOn = l.On()
		case LightWork:
			next.Capabilities.WorkLightAvailable = true
			next.Capabilities.WorkLightOn = l.On()
		}
	}
	if t.HasAMS != nil {
		next.Capabilities.HasAMS = *t.HasAMS
	}

	sp.reported = reported
	next.State = deriveState(reported, next.LastError)
	return next
}

// deriveState applies the precedence rule: an outstanding fault wins over
// whatever the printer reports.
func deriveState(reported printer.State, lastError uint32) printer.State {
	if lastError != 0 {
		return printer.StateError
	}
	return reported
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
