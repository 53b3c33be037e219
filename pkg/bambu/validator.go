// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import "fmt"

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalyInvalidPercent AnomalyType = iota
	AnomalyInvalidTemp
	AnomalyInvalidFan
	AnomalyInvalidLayer
	AnomalyUnknownState
	AnomalyInvalidSpeed
)

// ValidationError represents a telemetry validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Plausible ranges for reported values
const (
	maxNozzleTemp = 350.0
	maxBedTemp    = 130.0
	minTemp       = -40.0
)

var knownGCodeStates = map[string]bool{
	GCodeStateIdle:    true,
	GCodeStatePrepare: true,
	GCodeStateRunning: true,
	GCodeStatePause:   true,
	GCodeStateFinish:  true,
	GCodeStateFailed:  true,
	GCodeStateSlicing: true,
}

// ValidateTelemetry checks a decoded document for implausible values.
// Returns a slice of validation errors (empty if the document is sane).
// Anomalies are reported, not corrected; the merge still applies them.
func ValidateTelemetry(t *Telemetry) []ValidationError {
	errors := []ValidationError{}

	if t.Percent != nil && (*t.Percent < 0 || *t.Percent > 100) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPercent,
			Message: fmt.Sprintf("mc_percent=%.1f outside 0-100", *t.Percent),
			Details: map[string]interface{}{"percent": *t.Percent},
		})
	}

	errors = append(errors, validateTemp("nozzle_temper", t.NozzleTemp, maxNozzleTemp)...)
	errors = append(errors, validateTemp("nozzle_target_temper", t.NozzleTargetTemp, maxNozzleTemp)...)
	errors = append(errors, validateTemp("bed_temper", t.BedTemp, maxBedTemp)...)
	errors = append(errors, validateTemp("bed_target_temper", t.BedTargetTemp, maxBedTemp)...)

	errors = append(errors, validateFan("cooling_fan_speed", t.CoolingFan)...)
	errors = append(errors, validateFan("big_fan1_speed", t.AuxFan)...)
	errors = append(errors, validateFan("big_fan2_speed", t.ChamberFan)...)

	if t.Layer != nil && t.TotalLayers != nil && *t.TotalLayers > 0 && *t.Layer > *t.TotalLayers {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidLayer,
			Message: fmt.Sprintf("layer_num > total_layer_num (%d > %d)", *t.Layer, *t.TotalLayers),
			Details: map[string]interface{}{"layer": *t.Layer, "total": *t.TotalLayers},
		})
	}

	if t.GCodeState != nil && !knownGCodeStates[*t.GCodeState] {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownState,
			Message: fmt.Sprintf("Unknown gcode_state %q", *t.GCodeState),
			Details: map[string]interface{}{"gcode_state": *t.GCodeState},
		})
	}

	if t.SpeedLevel != nil && (*t.SpeedLevel < 1 || *t.SpeedLevel > 4) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidSpeed,
			Message: fmt.Sprintf("spd_lvl=%d outside 1-4", *t.SpeedLevel),
			Details: map[string]interface{}{"spd_lvl": *t.SpeedLevel},
		})
	}

	return errors
}

func validateTemp(field string, v *float64, max float64) []ValidationError {
	if v == nil || (*v >= minTemp && *v <= max) {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyInvalidTemp,
		Message: fmt.Sprintf("%s=%.1f outside %.0f-%.0f", field, *v, minTemp, max),
		Details: map[string]interface{}{"field": field, "value": *v, "max": max},
	}}
}

func validateFan(field string, v *float64) []ValidationError {
	if v == nil || (*v >= 0 && *v <= fanSpeedScale) {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyInvalidFan,
		Message: fmt.Sprintf("%s=%.0f outside 0-15", field, *v),
		Details: map[string]interface{}{"field": field, "value": *v},
	}}
}
