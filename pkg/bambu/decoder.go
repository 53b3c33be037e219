// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned for telemetry that is not valid JSON or does not
// follow the report schema. It is never fatal to the polling loop.
var ErrMalformed = errors.New("malformed telemetry")

// Telemetry is one decoded report document. Every field is optional: a nil
// pointer means the printer did not send it in this update, and the merge
// step must leave the corresponding state untouched.
type Telemetry struct {
	Envelopes []string // top level keys present in the document
	Command   *string  // print.command echo, e.g. "push_status"

	GCodeState    *string
	Percent       *float64 // 0..100
	RemainingTime *time.Duration
	Layer         *int
	TotalLayers   *int
	SubtaskName   *string
	GCodeFile     *string

	NozzleTemp       *float64
	NozzleTargetTemp *float64
	BedTemp          *float64
	BedTargetTemp    *float64

	CoolingFan *float64 // 0..15
	AuxFan     *float64 // big_fan1, 0..15
	ChamberFan *float64 // big_fan2, 0..15

	SpeedLevel     *int
	SpeedMagnitude *float64 // percent

	PrintError *uint32

	Lights []LightReport
	HasAMS *bool

	ReceivedAt time.Time
}

// LightReport is one entry of print.lights_report
type LightReport struct {
	Node string `json:"node"`
	Mode string `json:"mode"`
}

// On reports whether the light is lit (flashing counts as on)
func (l LightReport) On() bool {
	return l.Mode == "on" || l.Mode == "flashing"
}

// Empty reports whether the document carried no printer status at all
// (for example a bare "info" or "system" reply).
func (t *Telemetry) Empty() bool {
	return t.GCodeState == nil && t.Percent == nil && t.RemainingTime == nil &&
		t.Layer == nil && t.TotalLayers == nil && t.SubtaskName == nil && t.GCodeFile == nil &&
		t.NozzleTemp == nil && t.NozzleTargetTemp == nil && t.BedTemp == nil && t.BedTargetTemp == nil &&
		t.CoolingFan == nil && t.AuxFan == nil && t.ChamberFan == nil &&
		t.SpeedLevel == nil && t.SpeedMagnitude == nil && t.PrintError == nil &&
		t.Lights == nil && t.HasAMS == nil
}

// flexNumber accepts JSON numbers as well as numeric strings; firmware
// reports fan speeds and a few counters as strings.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("expected finite number, got %q", s)
		}
		*n = flexNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

type rawAMS struct {
	ExistBits *string           `json:"ams_exist_bits"`
	Units     []json.RawMessage `json:"ams"`
}

type rawPrint struct {
	Command      *string       `json:"command"`
	GCodeState   *string       `json:"gcode_state"`
	Percent      *flexNumber   `json:"mc_percent"`
	RemainingMin *flexNumber   `json:"mc_remaining_time"`
	Layer        *flexNumber   `json:"layer_num"`
	TotalLayers  *flexNumber   `json:"total_layer_num"`
	SubtaskName  *string       `json:"subtask_name"`
	GCodeFile    *string       `json:"gcode_file"`
	NozzleTemp   *flexNumber   `json:"nozzle_temper"`
	NozzleTarget *flexNumber   `json:"nozzle_target_temper"`
	BedTemp      *flexNumber   `json:"bed_temper"`
	BedTarget    *flexNumber   `json:"bed_target_temper"`
	CoolingFan   *flexNumber   `json:"cooling_fan_speed"`
	BigFan1      *flexNumber   `json:"big_fan1_speed"`
	BigFan2      *flexNumber   `json:"big_fan2_speed"`
	SpeedLevel   *flexNumber   `json:"spd_lvl"`
	SpeedMag     *flexNumber   `json:"spd_mag"`
	PrintError   *flexNumber   `json:"print_error"`
	LightsReport []LightReport `json:"lights_report"`
	AMS          *rawAMS       `json:"ams"`
}

// DecodeTelemetry parses one report document. Absent fields stay nil.
// Documents without a "print" object decode to an empty Telemetry.
func DecodeTelemetry(data []byte) (*Telemetry, error) {
	var envelopes map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelopes == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformed)
	}

	t := &Telemetry{ReceivedAt: time.Now()}
	for k := range envelopes {
		t.Envelopes = append(t.Envelopes, k)
	}
	sort.Strings(t.Envelopes)

	body, ok := envelopes[EnvelopePrint]
	if !ok || string(bytes.TrimSpace(body)) == "null" {
		return t, nil
	}

	var p rawPrint
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: print: %v", ErrMalformed, err)
	}

	t.Command = p.Command
	t.GCodeState = p.GCodeState
	t.Percent = floatPtr(p.Percent)
	if p.RemainingMin != nil {
		d := time.Duration(float64(*p.RemainingMin) * float64(time.Minute))
		t.RemainingTime = &d
	}
	t.Layer = intPtr(p.Layer)
	t.TotalLayers = intPtr(p.TotalLayers)
	t.SubtaskName = p.SubtaskName
	t.GCodeFile = p.GCodeFile
	t.NozzleTemp = floatPtr(p.NozzleTemp)
	t.NozzleTargetTemp = floatPtr(p.NozzleTarget)
	t.BedTemp = floatPtr(p.BedTemp)
	t.BedTargetTemp = floatPtr(p.BedTarget)
	t.CoolingFan = floatPtr(p.CoolingFan)
	t.AuxFan = floatPtr(p.BigFan1)
	t.ChamberFan = floatPtr(p.BigFan2)
	t.SpeedLevel = intPtr(p.SpeedLevel)
	t.SpeedMagnitude = floatPtr(p.SpeedMag)
	if p.PrintError != nil {
		v := float64(*p.PrintError)
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: print_error %v is not a fault code", ErrMalformed, v)
		}
		code := uint32(v)
		t.PrintError = &code
	}
	t.Lights = p.LightsReport
	if p.AMS != nil {
		has := len(p.AMS.Units) > 0
		if p.AMS.ExistBits != nil {
			bits, err := strconv.ParseUint(strings.TrimSpace(*p.AMS.ExistBits), 16, 32)
			if err == nil && bits != 0 {
				has = true
			}
		}
		t.HasAMS = &has
	}

	return t, nil
}

func floatPtr(n *flexNumber) *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

func intPtr(n *flexNumber) *int {
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}
