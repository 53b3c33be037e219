// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"testing"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

func newTestDispatcher(cfg DispatchConfig) (*Dispatcher, *RecoveryTracker) {
	tracker := NewRecoveryTracker()
	return NewDispatcher(cfg, NewEncoder("SERIAL"), tracker), tracker
}

// commandParts returns the command name and param of an encoded command
func commandParts(t *testing.T, cmd printer.Command) (string, string) {
	t.Helper()
	_, fields := decodeEnvelope(t, cmd.Payload)
	command, _ := fields["command"].(string)
	param, _ := fields["param"].(string)
	return command, param
}

func TestDispatcherFeatures(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{
		Features: DefaultFeatures | printer.FeatureLoadFilament | printer.FeatureUnloadFilament,
	})

	tests := []struct {
		feature     printer.Feature
		wantCommand string
		wantParam   string
	}{
		{printer.FeatureHome, CmdGCodeLine, "G28\n"},
		{printer.FeatureDisableSteppers, CmdGCodeLine, "M18\n"},
		{printer.FeaturePause, CmdPause, ""},
		{printer.FeatureResume, CmdResume, ""},
		{printer.FeatureStop, CmdStop, ""},
		{printer.FeatureEmergencyStop, CmdGCodeLine, "M112\n"},
		{printer.FeatureCooldown, CmdGCodeLine, "M104 S0\nM140 S0\n"},
		{printer.FeatureExtrude, CmdGCodeLine, "M83\nG1 E25 F300\n"},
		{printer.FeatureRetract, CmdGCodeLine, "M83\nG1 E-25 F300\n"},
		{printer.FeatureLoadFilament, CmdGCodeLine, "M701\n"},
		{printer.FeatureUnloadFilament, CmdGCodeLine, "M702\n"},
		{printer.FeatureContinueError, CmdResume, ""},
		{printer.FeatureIgnoreError, CmdCleanPrintError, ""},
		{printer.FeatureRetryError, CmdResume, ""},
	}
	for _, tt := range tests {
		t.Run(tt.feature.String(), func(t *testing.T) {
			cmd, ok := d.Feature(tt.feature)
			if !ok {
				t.Fatalf("Feature(%v) ok = false", tt.feature)
			}
			command, param := commandParts(t, cmd)
			if command != tt.wantCommand {
				t.Errorf("command = %q, want %q", command, tt.wantCommand)
			}
			if param != tt.wantParam {
				t.Errorf("param = %q, want %q", param, tt.wantParam)
			}
		})
	}
}

func TestDispatcherUnsupportedFeature(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{Features: DefaultFeatures &^ printer.FeatureExtrude})

	if _, ok := d.Feature(printer.FeatureExtrude); ok {
		t.Error("Feature(Extrude) ok = true, want false")
	}
	if _, ok := d.Feature(printer.FeatureLoadFilament); ok {
		t.Error("Feature(LoadFilament) ok = true for a default set without it")
	}
	if _, ok := d.Feature(printer.FeaturePause | printer.FeatureStop); ok {
		t.Error("Feature(Pause|Stop) ok = true, want false for a set")
	}
	if _, ok := d.Feature(0); ok {
		t.Error("Feature(0) ok = true, want false")
	}
}

func TestDispatcherIgnoreUsesCurrentFault(t *testing.T) {
	d, tracker := newTestDispatcher(DispatchConfig{})
	tracker.Observe(0x0300400C)

	cmd, ok := d.Feature(printer.FeatureIgnoreError)
	if !ok {
		t.Fatal("Feature(IgnoreError) ok = false")
	}
	_, fields := decodeEnvelope(t, cmd.Payload)
	if fields["print_error"] != float64(0x0300400C) {
		t.Errorf("print_error = %v, want %d", fields["print_error"], 0x0300400C)
	}
}

func TestDispatcherRetryReissues(t *testing.T) {
	d, tracker := newTestDispatcher(DispatchConfig{})
	start, ok := d.StartFile("benchy.3mf")
	if !ok {
		t.Fatal("StartFile() ok = false")
	}
	tracker.Remember(start)

	cmd, ok := d.Feature(printer.FeatureRetryError)
	if !ok {
		t.Fatal("Feature(RetryError) ok = false")
	}
	if string(cmd.Payload) != string(start.Payload) {
		t.Errorf("retry payload = %s, want %s", cmd.Payload, start.Payload)
	}
}

func TestDispatcherMove(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{})

	tests := []struct {
		name      string
		axis      string
		amount    float64
		relative  bool
		wantOK    bool
		wantParam string
	}{
		{"relative x", "x", 10, true, true, "G91\nG0 X10 F6000\nG90\n"},
		{"absolute y", "Y", 120.5, false, true, "G90\nG0 Y120.5 F6000\n"},
		{"relative z uses z feed", "z", -0.2, true, true, "G91\nG0 Z-0.2 F600\nG90\n"},
		{"out of range passes through", "x", 9999, false, true, "G90\nG0 X9999 F6000\n"},
		{"extruder axis rejected", "e", 5, true, false, ""},
		{"empty axis rejected", "", 5, true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := d.Move(tt.axis, tt.amount, tt.relative)
			if ok != tt.wantOK {
				t.Fatalf("Move() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if _, param := commandParts(t, cmd); param != tt.wantParam {
				t.Errorf("param = %q, want %q", param, tt.wantParam)
			}
		})
	}
}

func TestDispatcherTemperature(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{})

	tests := []struct {
		name      string
		device    printer.TemperatureDevice
		temp      uint
		wantOK    bool
		wantParam string
	}{
		{"nozzle", printer.TemperatureNozzle1, 220, true, "M104 S220\n"},
		{"bed", printer.TemperatureBed, 60, true, "M140 S60\n"},
		{"chamber unsupported", printer.TemperatureChamber, 40, false, ""},
		{"second nozzle unsupported", printer.TemperatureNozzle2, 200, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := d.Temperature(tt.device, tt.temp)
			if ok != tt.wantOK {
				t.Fatalf("Temperature() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if _, param := commandParts(t, cmd); param != tt.wantParam {
				t.Errorf("param = %q, want %q", param, tt.wantParam)
			}
		})
	}
}

func TestDispatcherMacros(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{
		Macros: map[string]string{"Purge": "G1 E10 F200", "Beep": "M300"},
	})

	macros := d.Macros()
	wantNames := []string{"Silent speed", "Normal speed", "Sport speed", "Ludicrous speed", "Beep", "Purge"}
	if len(macros) != len(wantNames) {
		t.Fatalf("len(Macros()) = %d, want %d", len(macros), len(wantNames))
	}
	for i, want := range wantNames {
		if macros[i].Name != want {
			t.Errorf("Macros()[%d] = %q, want %q", i, macros[i].Name, want)
		}
	}

	cmd, ok := d.Macro("sport SPEED")
	if !ok {
		t.Fatal("Macro(sport speed) ok = false")
	}
	if command, param := commandParts(t, cmd); command != CmdPrintSpeed || param != "3" {
		t.Errorf("speed macro = %s %s, want print_speed 3", command, param)
	}

	cmd, ok = d.Macro("purge")
	if !ok {
		t.Fatal("Macro(purge) ok = false")
	}
	if _, param := commandParts(t, cmd); param != "G1 E10 F200\n" {
		t.Errorf("purge param = %q", param)
	}

	if _, ok := d.Macro("missing"); ok {
		t.Error("Macro(missing) ok = true, want false")
	}
}

func TestDispatcherPowerDevices(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{})

	caps := printer.Capabilities{ChamberLightAvailable: true, ChamberLightOn: true}
	devices := d.PowerDevices(caps)
	if len(devices) != 1 || devices[0].Name != PowerChamberLight || !devices[0].On {
		t.Fatalf("PowerDevices() = %+v, want chamber light on", devices)
	}

	cmd, ok := d.PowerDevice(caps, "chamber light", false)
	if !ok {
		t.Fatal("PowerDevice(chamber light) ok = false")
	}
	_, fields := decodeEnvelope(t, cmd.Payload)
	if fields["led_node"] != LightChamber || fields["led_mode"] != "off" {
		t.Errorf("ledctrl = %v/%v, want chamber_light/off", fields["led_node"], fields["led_mode"])
	}

	if _, ok := d.PowerDevice(caps, PowerWorkLight, true); ok {
		t.Error("PowerDevice(work light) ok = true for a printer without one")
	}
}

func TestDispatcherGCodeAndStartFile(t *testing.T) {
	d, _ := newTestDispatcher(DispatchConfig{})

	if _, ok := d.GCode("   "); ok {
		t.Error("GCode(blank) ok = true, want false")
	}
	if _, ok := d.StartFile("model.stl"); ok {
		t.Error("StartFile(model.stl) ok = true, want false")
	}
	cmd, ok := d.StartFile("model.gcode")
	if !ok {
		t.Fatal("StartFile(model.gcode) ok = false")
	}
	if command, param := commandParts(t, cmd); command != CmdGCodeFile || param != "/sdcard/model.gcode" {
		t.Errorf("StartFile() = %s %s", command, param)
	}
}
