// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// DefaultFeatures is the feature set of a Bambu printer unless configured
// otherwise.
const DefaultFeatures = printer.FeatureHome |
	printer.FeatureDisableSteppers |
	printer.FeaturePause |
	printer.FeatureResume |
	printer.FeatureStop |
	printer.FeatureEmergencyStop |
	printer.FeatureCooldown |
	printer.FeatureContinueError |
	printer.FeatureExtrude |
	printer.FeatureRetract |
	printer.FeatureIgnoreError |
	printer.FeatureRetryError

// ErrorScreenFeatures are offered while a fault is shown
const ErrorScreenFeatures = printer.FeatureRetryError |
	printer.FeatureIgnoreError |
	printer.FeatureContinueError

// DefaultTemperatureDevices are the heaters with settable targets
const DefaultTemperatureDevices = printer.TemperatureBed | printer.TemperatureNozzle1

// DispatchConfig holds what the dispatcher validates intents against
type DispatchConfig struct {
	Features           printer.Feature
	TemperatureDevices printer.TemperatureDevice

	ExtrudeMM       float64
	ExtrudeFeedrate float64 // mm/min
	MoveFeedrate    float64 // mm/min
	ZMoveFeedrate   float64 // mm/min

	// Macros maps a macro name to the G-code it sends
	Macros map[string]string
}

// speedMacros expose the speed profiles as macros
var speedMacros = []struct {
	profile printer.SpeedProfile
	name    string
}{
	{printer.SpeedSilent, "Silent speed"},
	{printer.SpeedNormal, "Normal speed"},
	{printer.SpeedSport, "Sport speed"},
	{printer.SpeedLudicrous, "Ludicrous speed"},
}

// Dispatcher validates intents and translates them into commands. It never
// sends anything; every accepted intent yields exactly one command.
type Dispatcher struct {
	cfg     DispatchConfig
	enc     *Encoder
	tracker *RecoveryTracker
}

// NewDispatcher creates a dispatcher encoding with enc. tracker supplies
// the fault code for IgnoreError and the command for RetryError.
func NewDispatcher(cfg DispatchConfig, enc *Encoder, tracker *RecoveryTracker) *Dispatcher {
	if cfg.Features == 0 {
		cfg.Features = DefaultFeatures
	}
	if cfg.TemperatureDevices == 0 {
		cfg.TemperatureDevices = DefaultTemperatureDevices
	}
	if cfg.ExtrudeMM <= 0 {
		cfg.ExtrudeMM = DefaultExtrudeMM
	}
	if cfg.ExtrudeFeedrate <= 0 {
		cfg.ExtrudeFeedrate = DefaultExtrudeFeedrate
	}
	if cfg.MoveFeedrate <= 0 {
		cfg.MoveFeedrate = DefaultMoveFeedrate
	}
	if cfg.ZMoveFeedrate <= 0 {
		cfg.ZMoveFeedrate = DefaultZMoveFeedrate
	}
	return &Dispatcher{cfg: cfg, enc: enc, tracker: tracker}
}

// Features returns the supported feature set
func (d *Dispatcher) Features() printer.Feature { return d.cfg.Features }

// TemperatureDevices returns the supported heaters
func (d *Dispatcher) TemperatureDevices() printer.TemperatureDevice {
	return d.cfg.TemperatureDevices
}

// Feature translates a single feature. ok is false for unsupported
// features and for sets of more than one feature.
func (d *Dispatcher) Feature(f printer.Feature) (printer.Command, bool) {
	if !d.cfg.Features.Has(f) || len(f.Features()) != 1 {
		return printer.Command{}, false
	}

	switch f {
	case printer.FeatureHome:
		return d.gcode("G28")
	case printer.FeatureDisableSteppers:
		return d.gcode("M18")
	case printer.FeaturePause:
		return d.encode(NewPauseRequest())
	case printer.FeatureResume, printer.FeatureContinueError:
		return d.encode(NewResumeRequest())
	case printer.FeatureStop:
		return d.encode(NewStopRequest())
	case printer.FeatureEmergencyStop:
		return d.gcode("M112")
	case printer.FeatureCooldown:
		return d.gcode("M104 S0\nM140 S0")
	case printer.FeatureExtrude:
		return d.extrude(d.cfg.ExtrudeMM)
	case printer.FeatureRetract:
		return d.extrude(-d.cfg.ExtrudeMM)
	case printer.FeatureLoadFilament:
		return d.gcode("M701")
	case printer.FeatureUnloadFilament:
		return d.gcode("M702")
	case printer.FeatureIgnoreError:
		return d.encode(NewCleanPrintErrorRequest(d.tracker.LastError()))
	case printer.FeatureRetryError:
		if cmd, ok := d.tracker.Retry(); ok {
			return cmd, true
		}
		return d.encode(NewResumeRequest())
	}
	return printer.Command{}, false
}

func (d *Dispatcher) extrude(mm float64) (printer.Command, bool) {
	return d.gcode(fmt.Sprintf("M83\nG1 E%s F%s", formatNumber(mm), formatNumber(d.cfg.ExtrudeFeedrate)))
}

// Move translates a motion request. axis is one of x, y or z. amount is
// passed through unchecked; the firmware enforces travel limits.
func (d *Dispatcher) Move(axis string, amount float64, relative bool) (printer.Command, bool) {
	axis = strings.ToUpper(strings.TrimSpace(axis))
	feed := d.cfg.MoveFeedrate
	switch axis {
	case "X", "Y":
	case "Z":
		feed = d.cfg.ZMoveFeedrate
	default:
		return printer.Command{}, false
	}

	move := fmt.Sprintf("G0 %s%s F%s", axis, formatNumber(amount), formatNumber(feed))
	if relative {
		return d.gcode("G91\n" + move + "\nG90")
	}
	return d.gcode("G90\n" + move)
}

// Temperature translates a heater target change
func (d *Dispatcher) Temperature(device printer.TemperatureDevice, temperature uint) (printer.Command, bool) {
	if !d.cfg.TemperatureDevices.Has(device) {
		return printer.Command{}, false
	}
	switch device {
	case printer.TemperatureNozzle1:
		return d.gcode(fmt.Sprintf("M104 S%d", temperature))
	case printer.TemperatureNozzle2:
		return d.gcode(fmt.Sprintf("M104 T1 S%d", temperature))
	case printer.TemperatureBed:
		return d.gcode(fmt.Sprintf("M140 S%d", temperature))
	case printer.TemperatureChamber:
		return d.gcode(fmt.Sprintf("M141 S%d", temperature))
	}
	return printer.Command{}, false
}

// GCode wraps raw G-code. Empty input is rejected.
func (d *Dispatcher) GCode(gcode string) (printer.Command, bool) {
	if strings.TrimSpace(gcode) == "" {
		return printer.Command{}, false
	}
	return d.gcode(gcode)
}

// Macros lists the speed profiles followed by the configured macros in
// name order.
func (d *Dispatcher) Macros() []printer.Macro {
	macros := make([]printer.Macro, 0, len(speedMacros)+len(d.cfg.Macros))
	for _, m := range speedMacros {
		macros = append(macros, printer.Macro{
			Name:        m.name,
			Description: fmt.Sprintf("Switch to the %s speed profile", strings.ToLower(m.profile.String())),
		})
	}

	names := make([]string, 0, len(d.cfg.Macros))
	for name := range d.cfg.Macros {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		macros = append(macros, printer.Macro{Name: name, Description: d.cfg.Macros[name]})
	}
	return macros
}

// Macro translates a macro by name (case-insensitive)
func (d *Dispatcher) Macro(name string) (printer.Command, bool) {
	name = strings.TrimSpace(name)
	for _, m := range speedMacros {
		if strings.EqualFold(m.name, name) {
			return d.encode(NewPrintSpeedRequest(int(m.profile)))
		}
	}
	for macro, gcode := range d.cfg.Macros {
		if strings.EqualFold(macro, name) {
			return d.GCode(gcode)
		}
	}
	return printer.Command{}, false
}

// PowerDevices lists the lights the printer reported
func (d *Dispatcher) PowerDevices(caps printer.Capabilities) []printer.PowerDevice {
	devices := []printer.PowerDevice{}
	if caps.ChamberLightAvailable {
		devices = append(devices, printer.PowerDevice{Name: PowerChamberLight, On: caps.ChamberLightOn})
	}
	if caps.WorkLightAvailable {
		devices = append(devices, printer.PowerDevice{Name: PowerWorkLight, On: caps.WorkLightOn})
	}
	return devices
}

// PowerDevice translates a light switch. The name must be in the current
// listing.
func (d *Dispatcher) PowerDevice(caps printer.Capabilities, name string, on bool) (printer.Command, bool) {
	for _, dev := range d.PowerDevices(caps) {
		if !strings.EqualFold(dev.Name, name) || dev.Locked {
			continue
		}
		node := LightChamber
		if dev.Name == PowerWorkLight {
			node = LightWork
		}
		return d.encode(NewLightRequest(node, on))
	}
	return printer.Command{}, false
}

// StartFile translates a print start request
func (d *Dispatcher) StartFile(name string) (printer.Command, bool) {
	r, err := NewStartFileRequest(name)
	if err != nil {
		return printer.Command{}, false
	}
	return d.encode(r)
}

// PushAll builds the full status request
func (d *Dispatcher) PushAll() printer.Command {
	return d.enc.MustEncode(NewPushAllRequest())
}

func (d *Dispatcher) gcode(gcode string) (printer.Command, bool) {
	return d.encode(NewGCodeLineRequest(gcode))
}

func (d *Dispatcher) encode(r Request) (printer.Command, bool) {
	cmd, err := d.enc.Encode(r)
	if err != nil {
		return printer.Command{}, false
	}
	return cmd, true
}

// retryable reports whether a command is worth re-issuing on RetryError
func retryable(cmd printer.Command) bool {
	switch cmd.Name {
	case CmdPushAll, CmdCleanPrintError, CmdLedCtrl:
		return false
	}
	return true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
