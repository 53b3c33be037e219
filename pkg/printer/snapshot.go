// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import "time"

// State is the coarse printer lifecycle state
type State int

// State values
const (
	StateOffline State = iota
	StateIdle
	StatePrinting
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateIdle:
		return "IDLE"
	case StatePrinting:
		return "PRINTING"
	case StatePaused:
		return "PAUSED"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// SpeedProfile is a coarse motion-speed preset
type SpeedProfile int

// Speed profiles, numbered as on the wire
const (
	SpeedSilent    SpeedProfile = 1
	SpeedNormal    SpeedProfile = 2
	SpeedSport     SpeedProfile = 3
	SpeedLudicrous SpeedProfile = 4
)

func (p SpeedProfile) String() string {
	switch p {
	case SpeedSilent:
		return "Silent"
	case SpeedNormal:
		return "Normal"
	case SpeedSport:
		return "Sport"
	case SpeedLudicrous:
		return "Ludicrous"
	}
	return "Unknown"
}

// Capabilities are independent hardware presence/state flags.
type Capabilities struct {
	ChamberLightAvailable bool
	ChamberLightOn        bool
	WorkLightAvailable    bool
	WorkLightOn           bool
	HasAMS                bool
}

// Snapshot is a copy of the normalized printer state. It is a plain value;
// mutating a received Snapshot has no effect on the printer.
type Snapshot struct {
	State State

	PrintProgress float64 // 0..1
	ElapsedTime   time.Duration
	RemainingTime time.Duration
	CurrentLayer  int
	TotalLayers   int
	PrintFilename string

	Position        [3]float64 // X, Y, Z in mm
	FeedrateMMPerS  float64
	FilamentUsedMM  float64
	PressureAdvance float64
	SmoothTime      float64

	ExtruderTemp       float64
	ExtruderTargetTemp float64
	BedTemp            float64
	BedTargetTemp      float64
	FanSpeed           float64 // 0..1
	ChamberFanSpeed    float64 // 0..1
	AuxFanSpeed        float64 // 0..1

	SpeedMult    float64
	ExtrudeMult  float64
	SpeedProfile SpeedProfile

	Capabilities Capabilities

	LastError   uint32
	IgnoreError uint32

	UpdatedAt time.Time
}

// NewSnapshot returns the snapshot of a printer that has not reported yet.
func NewSnapshot() Snapshot {
	return Snapshot{
		State:        StateOffline,
		SpeedMult:    1,
		ExtrudeMult:  1,
		SpeedProfile: SpeedNormal,
	}
}
