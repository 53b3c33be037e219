// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package intent parses one-line text commands ("pause", "temp bed 60",
// "move x 10") into printer intents and executes them against a
// printer.Printer. The terminal monitor, the websocket bridge and the serial
// console share it.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Errors returned by Parse and Execute
var (
	ErrEmpty    = errors.New("empty command")
	ErrUnknown  = errors.New("unknown command")
	ErrUsage    = errors.New("invalid arguments")
	ErrRejected = errors.New("printer rejected command")
)

// Kind classifies an intent
type Kind int

// Intent kinds
const (
	KindFeature Kind = iota
	KindGCode
	KindTemperature
	KindMove
	KindMacro
	KindPower
	KindPrint
	KindSpeed
	KindFiles
	KindStatus
	KindHelp
)

// Intent is a parsed command. Only the fields relevant to Kind are set.
type Intent struct {
	Kind Kind

	Feature printer.Feature

	GCode string

	Device      printer.TemperatureDevice
	Temperature uint

	Axis     string
	Amount   float64
	Relative bool

	// Name is the macro, power device or file name
	Name string
	On   bool

	Speed printer.SpeedProfile
}

// featureWords maps short command words to features. Canonical feature
// names (printer.ParseFeature) are accepted too.
var featureWords = map[string]printer.Feature{
	"home":       printer.FeatureHome,
	"motors_off": printer.FeatureDisableSteppers,
	"pause":      printer.FeaturePause,
	"resume":     printer.FeatureResume,
	"stop":       printer.FeatureStop,
	"cancel":     printer.FeatureStop,
	"estop":      printer.FeatureEmergencyStop,
	"cooldown":   printer.FeatureCooldown,
	"continue":   printer.FeatureContinueError,
	"ignore":     printer.FeatureIgnoreError,
	"retry":      printer.FeatureRetryError,
	"extrude":    printer.FeatureExtrude,
	"retract":    printer.FeatureRetract,
	"load":       printer.FeatureLoadFilament,
	"unload":     printer.FeatureUnloadFilament,
}

var speedWords = map[string]printer.SpeedProfile{
	"silent":    printer.SpeedSilent,
	"normal":    printer.SpeedNormal,
	"standard":  printer.SpeedNormal,
	"sport":     printer.SpeedSport,
	"ludicrous": printer.SpeedLudicrous,
}

// Usage lists the accepted commands
const Usage = `commands:
  pause | resume | stop | home | estop | cooldown | motors_off
  extrude | retract | load | unload
  ignore | retry | continue          (fault screen)
  gcode <line>                       raw G-code
  temp <nozzle|nozzle2|bed|chamber> <celsius>
  move <x|y|z> <mm> [abs]
  speed <silent|normal|sport|ludicrous>
  macro <name>
  power <name> <on|off>
  print <file>
  files | status | help`

// Parse turns a command line into an intent. Command words are case
// insensitive; G-code, macro, device and file arguments keep their case.
func Parse(line string) (Intent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Intent{}, ErrEmpty
	}

	word, rest, _ := strings.Cut(line, " ")
	word = strings.ToLower(word)
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch word {
	case "gcode", "g":
		if rest == "" {
			return Intent{}, fmt.Errorf("%w: gcode needs a line", ErrUsage)
		}
		return Intent{Kind: KindGCode, GCode: rest}, nil

	case "temp", "temperature":
		if len(args) != 2 {
			return Intent{}, fmt.Errorf("%w: temp <device> <celsius>", ErrUsage)
		}
		dev, ok := printer.ParseTemperatureDevice(args[0])
		if !ok {
			return Intent{}, fmt.Errorf("%w: unknown heater %q", ErrUsage, args[0])
		}
		t, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return Intent{}, fmt.Errorf("%w: bad temperature %q", ErrUsage, args[1])
		}
		return Intent{Kind: KindTemperature, Device: dev, Temperature: uint(t)}, nil

	case "move":
		if len(args) < 2 || len(args) > 3 {
			return Intent{}, fmt.Errorf("%w: move <axis> <mm> [abs]", ErrUsage)
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Intent{}, fmt.Errorf("%w: bad distance %q", ErrUsage, args[1])
		}
		in := Intent{Kind: KindMove, Axis: strings.ToLower(args[0]), Amount: amount, Relative: true}
		if len(args) == 3 {
			switch strings.ToLower(args[2]) {
			case "abs", "absolute":
				in.Relative = false
			case "rel", "relative":
			default:
				return Intent{}, fmt.Errorf("%w: expected abs or rel, got %q", ErrUsage, args[2])
			}
		}
		return in, nil

	case "speed":
		if len(args) != 1 {
			return Intent{}, fmt.Errorf("%w: speed <profile>", ErrUsage)
		}
		profile, ok := speedWords[strings.ToLower(args[0])]
		if !ok {
			return Intent{}, fmt.Errorf("%w: unknown speed profile %q", ErrUsage, args[0])
		}
		return Intent{Kind: KindSpeed, Speed: profile}, nil

	case "macro":
		if rest == "" {
			return Intent{}, fmt.Errorf("%w: macro <name>", ErrUsage)
		}
		return Intent{Kind: KindMacro, Name: rest}, nil

	case "power", "light":
		if len(args) < 2 {
			return Intent{}, fmt.Errorf("%w: power <name> <on|off>", ErrUsage)
		}
		state := strings.ToLower(args[len(args)-1])
		name := strings.TrimSpace(strings.TrimSuffix(rest, args[len(args)-1]))
		switch state {
		case "on":
			return Intent{Kind: KindPower, Name: name, On: true}, nil
		case "off":
			return Intent{Kind: KindPower, Name: name}, nil
		}
		return Intent{}, fmt.Errorf("%w: expected on or off, got %q", ErrUsage, args[len(args)-1])

	case "print", "start":
		if rest == "" {
			return Intent{}, fmt.Errorf("%w: print <file>", ErrUsage)
		}
		return Intent{Kind: KindPrint, Name: rest}, nil

	case "files", "ls":
		return Intent{Kind: KindFiles}, nil
	case "status":
		return Intent{Kind: KindStatus}, nil
	case "help", "?":
		return Intent{Kind: KindHelp}, nil
	}

	if len(args) == 0 {
		if f, ok := featureWords[word]; ok {
			return Intent{Kind: KindFeature, Feature: f}, nil
		}
		if f, ok := printer.ParseFeature(word); ok {
			return Intent{Kind: KindFeature, Feature: f}, nil
		}
	}
	return Intent{}, fmt.Errorf("%w: %q", ErrUnknown, word)
}

// Execute runs an intent against p and returns a short human-readable
// result. Commands the printer refuses return ErrRejected.
func Execute(ctx context.Context, p printer.Printer, in Intent) (string, error) {
	var ok bool
	var done string

	switch in.Kind {
	case KindFeature:
		ok = p.ExecuteFeature(in.Feature)
		done = "sent " + in.Feature.String()
	case KindGCode:
		ok = p.SendGCode(in.GCode, false)
		done = "sent gcode"
	case KindTemperature:
		ok = p.SetTargetTemperature(in.Device, in.Temperature)
		done = fmt.Sprintf("%s target %d°C", in.Device, in.Temperature)
	case KindMove:
		ok = p.MovePrinter(in.Axis, in.Amount, in.Relative)
		done = fmt.Sprintf("move %s %g", in.Axis, in.Amount)
	case KindSpeed:
		ok = p.ExecuteMacro(in.Speed.String() + " speed")
		done = "speed " + in.Speed.String()
	case KindMacro:
		ok = p.ExecuteMacro(in.Name)
		done = "macro " + in.Name
	case KindPower:
		ok = p.SetPowerDeviceState(in.Name, in.On)
		done = fmt.Sprintf("%s %s", in.Name, onOff(in.On))
	case KindPrint:
		ok = p.StartFile(in.Name)
		done = "printing " + in.Name
	case KindFiles:
		files, err := p.Files(ctx)
		if err != nil {
			return "", err
		}
		return FormatFiles(files), nil
	case KindStatus:
		return FormatStatus(p.Snapshot()), nil
	case KindHelp:
		return Usage, nil
	default:
		return "", ErrUnknown
	}

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRejected, done)
	}
	return done, nil
}

// Run parses and executes line
func Run(ctx context.Context, p printer.Printer, line string) (string, error) {
	in, err := Parse(line)
	if err != nil {
		return "", err
	}
	return Execute(ctx, p, in)
}

// FormatStatus renders a one-line summary of a snapshot
func FormatStatus(s printer.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", s.State)
	if s.State == printer.StatePrinting || s.State == printer.StatePaused {
		fmt.Fprintf(&b, " %s %.0f%%", s.PrintFilename, s.PrintProgress*100)
		if s.TotalLayers > 0 {
			fmt.Fprintf(&b, " layer %d/%d", s.CurrentLayer, s.TotalLayers)
		}
	}
	fmt.Fprintf(&b, " nozzle %.0f/%.0f bed %.0f/%.0f",
		s.ExtruderTemp, s.ExtruderTargetTemp, s.BedTemp, s.BedTargetTemp)
	if s.LastError != 0 {
		fmt.Fprintf(&b, " error %08X", s.LastError)
	}
	return b.String()
}

// FormatFiles renders a file listing, one file per line
func FormatFiles(files []printer.File) string {
	if len(files) == 0 {
		return "no printable files"
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%-40s %8d", f.Name, f.Size))
	}
	return strings.Join(lines, "\n")
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
