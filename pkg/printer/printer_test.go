// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import "testing"

func TestFeatureNames(t *testing.T) {
	for _, fn := range featureNames {
		got, ok := ParseFeature(fn.name)
		if !ok || got != fn.feature {
			t.Errorf("ParseFeature(%q) = %v, %v", fn.name, got, ok)
		}
		if fn.feature.String() != fn.name {
			t.Errorf("String() = %q, want %q", fn.feature.String(), fn.name)
		}
	}

	if f, ok := ParseFeature("Emergency-Stop"); !ok || f != FeatureEmergencyStop {
		t.Errorf("ParseFeature(Emergency-Stop) = %v, %v", f, ok)
	}
	if _, ok := ParseFeature("fly"); ok {
		t.Error("ParseFeature(fly) ok = true")
	}
}

func TestFeatureSet(t *testing.T) {
	set := FeaturePause | FeatureStop
	if !set.Has(FeaturePause) || set.Has(FeatureHome) {
		t.Errorf("Has() wrong for %v", set)
	}
	if set.Has(0) {
		t.Error("Has(0) = true")
	}
	if got := set.String(); got != "pause,stop" {
		t.Errorf("String() = %q, want pause,stop", got)
	}
	if got := Feature(0).String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
	if got := set.Features(); len(got) != 2 || got[0] != FeaturePause || got[1] != FeatureStop {
		t.Errorf("Features() = %v", got)
	}
}

func TestParseTemperatureDevice(t *testing.T) {
	tests := []struct {
		in   string
		want TemperatureDevice
		ok   bool
	}{
		{"nozzle", TemperatureNozzle1, true},
		{"Extruder", TemperatureNozzle1, true},
		{"heater_bed", TemperatureBed, true},
		{"chamber", TemperatureChamber, true},
		{"nozzle2", TemperatureNozzle2, true},
		{"toaster", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTemperatureDevice(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseTemperatureDevice(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFaultStatusActive(t *testing.T) {
	tests := []struct {
		status FaultStatus
		want   bool
	}{
		{FaultStatus{}, false},
		{FaultStatus{LastError: 5}, true},
		{FaultStatus{LastError: 5, IgnoreError: 5, Acknowledged: true}, false},
	}
	for _, tt := range tests {
		if got := tt.status.Active(); got != tt.want {
			t.Errorf("%+v.Active() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNewSnapshot(t *testing.T) {
	s := NewSnapshot()
	if s.State != StateOffline || s.SpeedProfile != SpeedNormal || s.SpeedMult != 1 {
		t.Errorf("NewSnapshot() = %+v", s)
	}
	if s.State.String() != "OFFLINE" || SpeedLudicrous.String() != "Ludicrous" {
		t.Error("unexpected names")
	}
}
