// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

func mustDecode(t *testing.T, doc string) *Telemetry {
	t.Helper()
	tm, err := DecodeTelemetry([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeTelemetry(%s) error = %v", doc, err)
	}
	return tm
}

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func TestMergeSparse(t *testing.T) {
	sp := NewStateParser()
	snap := printer.NewSnapshot()

	snap = sp.Merge(snap, mustDecode(t, `{"print":{"bed_temper":60}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"nozzle_temper":200}}`), t0.Add(time.Second))

	if snap.BedTemp != 60 {
		t.Errorf("BedTemp = %v, want 60 (absent field must not reset)", snap.BedTemp)
	}
	if snap.ExtruderTemp != 200 {
		t.Errorf("ExtruderTemp = %v, want 200", snap.ExtruderTemp)
	}
}

func TestMergeEmptyDelta(t *testing.T) {
	sp := NewStateParser()
	prev := printer.NewSnapshot()
	prev.BedTemp = 42

	got := sp.Merge(prev, mustDecode(t, `{"info":{"command":"get_version"}}`), t0)
	if got != prev {
		t.Errorf("Merge() with empty delta changed the snapshot: %+v", got)
	}
	if got := sp.Merge(prev, nil, t0); got != prev {
		t.Errorf("Merge(nil) changed the snapshot: %+v", got)
	}
}

func TestMergeStateDerivation(t *testing.T) {
	tests := []struct {
		gcodeState string
		want       printer.State
	}{
		{"RUNNING", printer.StatePrinting},
		{"PREPARE", printer.StatePrinting},
		{"PAUSE", printer.StatePaused},
		{"IDLE", printer.StateIdle},
		{"FINISH", printer.StateIdle},
		{"FAILED", printer.StateIdle},
		{"SLICING", printer.StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.gcodeState, func(t *testing.T) {
			sp := NewStateParser()
			snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"`+tt.gcodeState+`"}}`), t0)
			if snap.State != tt.want {
				t.Errorf("State = %v, want %v", snap.State, tt.want)
			}
		})
	}
}

func TestMergeUnknownStateKeepsPrevious(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"PAUSE"}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"CALIBRATING_NEW_THING"}}`), t0)
	if snap.State != printer.StatePaused {
		t.Errorf("State = %v, want PAUSED", snap.State)
	}
}

func TestMergeFirstDocumentBecomesIdle(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"bed_temper":25}}`), t0)
	if snap.State != printer.StateIdle {
		t.Errorf("State = %v, want IDLE", snap.State)
	}
}

func TestMergeFaultPriority(t *testing.T) {
	sp := NewStateParser()
	snap := printer.NewSnapshot()
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"print_error":5}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"RUNNING","mc_percent":30}}`), t0.Add(time.Second))

	if snap.State != printer.StateError {
		t.Errorf("State = %v, want ERROR", snap.State)
	}
	if snap.LastError != 5 {
		t.Errorf("LastError = %d, want 5", snap.LastError)
	}
	if snap.PrintProgress != 0.3 {
		t.Errorf("PrintProgress = %v, want 0.3 (progress still accepted)", snap.PrintProgress)
	}

	snap = sp.Merge(snap, mustDecode(t, `{"print":{"print_error":0}}`), t0.Add(2*time.Second))
	if snap.State != printer.StatePrinting {
		t.Errorf("State after clear = %v, want PRINTING", snap.State)
	}
}

func TestMergeProgressMonotonic(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"IDLE"}}`), t0)

	percents := []string{"10", "25", "20", "24", "50", "49", "90"}
	last := 0.0
	for i, p := range percents {
		snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"RUNNING","mc_percent":`+p+`}}`), t0.Add(time.Duration(i)*time.Second))
		if snap.PrintProgress < last {
			t.Fatalf("step %d: PrintProgress decreased %v -> %v", i, last, snap.PrintProgress)
		}
		last = snap.PrintProgress
	}
	if last != 0.9 {
		t.Errorf("final PrintProgress = %v, want 0.9", last)
	}
}

func TestMergeNewPrintResets(t *testing.T) {
	sp := NewStateParser()
	snap := printer.NewSnapshot()
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"RUNNING","subtask_name":"first","mc_percent":80}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"FINISH","mc_percent":100}}`), t0.Add(time.Hour))
	if snap.PrintProgress != 1 {
		t.Fatalf("PrintProgress = %v, want 1", snap.PrintProgress)
	}

	start := t0.Add(2 * time.Hour)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"PREPARE","subtask_name":"second","mc_percent":0}}`), start)
	if snap.PrintProgress != 0 {
		t.Errorf("PrintProgress = %v, want 0 after new print", snap.PrintProgress)
	}
	if snap.PrintFilename != "second" {
		t.Errorf("PrintFilename = %q, want second", snap.PrintFilename)
	}

	snap = sp.Merge(snap, mustDecode(t, `{"print":{"mc_percent":5}}`), start.Add(10*time.Minute))
	if snap.ElapsedTime != 10*time.Minute {
		t.Errorf("ElapsedTime = %v, want 10m", snap.ElapsedTime)
	}
}

func TestMergeFilenameChangeWhilePrinting(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"RUNNING","subtask_name":"a","mc_percent":70}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"subtask_name":"b","mc_percent":3}}`), t0.Add(time.Minute))
	if snap.PrintProgress != 0.03 {
		t.Errorf("PrintProgress = %v, want 0.03 after job change", snap.PrintProgress)
	}

	// gcode_file alone never counts as a job change
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_file":"/data/Metadata/plate_1.gcode","mc_percent":4}}`), t0.Add(2*time.Minute))
	if snap.PrintFilename != "b" {
		t.Errorf("PrintFilename = %q, want b", snap.PrintFilename)
	}
	if snap.PrintProgress != 0.04 {
		t.Errorf("PrintProgress = %v, want 0.04", snap.PrintProgress)
	}
}

func TestMergeProgressOutsidePrinting(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"IDLE"}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"mc_percent":100}}`), t0)
	if snap.State != printer.StateIdle {
		t.Errorf("State = %v, want IDLE (progress must not force a state change)", snap.State)
	}
	if snap.PrintProgress != 1 {
		t.Errorf("PrintProgress = %v, want 1", snap.PrintProgress)
	}
}

func TestMergeScaling(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{
		"cooling_fan_speed":"15","big_fan1_speed":"0","big_fan2_speed":"5",
		"mc_remaining_time":90,"spd_lvl":4,"spd_mag":166,"layer_num":3,"total_layer_num":10
	}}`), t0)

	if snap.FanSpeed != 1 {
		t.Errorf("FanSpeed = %v, want 1", snap.FanSpeed)
	}
	if snap.AuxFanSpeed != 0 {
		t.Errorf("AuxFanSpeed = %v, want 0", snap.AuxFanSpeed)
	}
	if snap.ChamberFanSpeed != 5.0/15.0 {
		t.Errorf("ChamberFanSpeed = %v, want 1/3", snap.ChamberFanSpeed)
	}
	if snap.RemainingTime != 90*time.Minute {
		t.Errorf("RemainingTime = %v, want 90m", snap.RemainingTime)
	}
	if snap.SpeedProfile != printer.SpeedLudicrous {
		t.Errorf("SpeedProfile = %v, want Ludicrous", snap.SpeedProfile)
	}
	if snap.SpeedMult != 1.66 {
		t.Errorf("SpeedMult = %v, want 1.66", snap.SpeedMult)
	}
	if snap.CurrentLayer != 3 || snap.TotalLayers != 10 {
		t.Errorf("layers = %d/%d, want 3/10", snap.CurrentLayer, snap.TotalLayers)
	}

	tests := []struct {
		name         string
		doc          string
		wantProgress float64
		wantFan      float64
	}{
		{"negative percent", `{"print":{"mc_percent":-5}}`, 0, 0},
		{"percent above 100", `{"print":{"mc_percent":150}}`, 1, 0},
		{"negative fan", `{"print":{"cooling_fan_speed":"-3"}}`, 0, 0},
		{"fan above scale", `{"print":{"cooling_fan_speed":"20"}}`, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := NewStateParser()
			snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, tt.doc), t0)
			if snap.PrintProgress != tt.wantProgress {
				t.Errorf("PrintProgress = %v, want %v", snap.PrintProgress, tt.wantProgress)
			}
			if snap.FanSpeed != tt.wantFan {
				t.Errorf("FanSpeed = %v, want %v", snap.FanSpeed, tt.wantFan)
			}
		})
	}
}

func TestMergeCapabilities(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{
		"lights_report":[{"node":"chamber_light","mode":"on"},{"node":"work_light","mode":"off"}],
		"ams":{"ams_exist_bits":"1"}
	}}`), t0)

	want := printer.Capabilities{
		ChamberLightAvailable: true,
		ChamberLightOn:        true,
		WorkLightAvailable:    true,
		WorkLightOn:           false,
		HasAMS:                true,
	}
	if snap.Capabilities != want {
		t.Errorf("Capabilities = %+v, want %+v", snap.Capabilities, want)
	}

	// Each flag toggles independently
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"lights_report":[{"node":"chamber_light","mode":"off"}]}}`), t0)
	want.ChamberLightOn = false
	if snap.Capabilities != want {
		t.Errorf("Capabilities = %+v, want %+v", snap.Capabilities, want)
	}
}

func TestMergeRecordsFaultCodeOnly(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"print_error":7}}`), t0)
	snap.IgnoreError = 7

	tests := []struct {
		doc  string
		want uint32
	}{
		{`{"print":{"print_error":7}}`, 7},
		{`{"print":{"print_error":9}}`, 9},
		{`{"print":{"print_error":0}}`, 0},
	}
	for _, tt := range tests {
		snap = sp.Merge(snap, mustDecode(t, tt.doc), t0)
		if snap.LastError != tt.want {
			t.Errorf("LastError = %d, want %d", snap.LastError, tt.want)
		}
		if snap.IgnoreError != 7 {
			t.Errorf("IgnoreError = %d, want 7 (dismissals belong to the tracker)", snap.IgnoreError)
		}
	}
}

func TestMergeProgressIgnoresNonFinite(t *testing.T) {
	sp := NewStateParser()
	snap := sp.Merge(printer.NewSnapshot(), mustDecode(t, `{"print":{"gcode_state":"IDLE"}}`), t0)
	snap = sp.Merge(snap, mustDecode(t, `{"print":{"gcode_state":"RUNNING","mc_percent":40}}`), t0)

	if _, err := DecodeTelemetry([]byte(`{"print":{"mc_percent":"NaN"}}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("DecodeTelemetry(NaN) error = %v, want ErrMalformed", err)
	}

	nan := math.NaN()
	snap = sp.Merge(snap, &Telemetry{Percent: &nan}, t0)
	if snap.PrintProgress != 0.4 {
		t.Errorf("PrintProgress after NaN = %v, want 0.4", snap.PrintProgress)
	}

	snap = sp.Merge(snap, mustDecode(t, `{"print":{"mc_percent":10}}`), t0)
	if snap.PrintProgress != 0.4 {
		t.Errorf("PrintProgress after 10%% = %v, want 0.4", snap.PrintProgress)
	}
}
