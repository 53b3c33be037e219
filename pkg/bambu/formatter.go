// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// FormatTelemetry formats a decoded document into a human-readable string:
// a header line followed by one indented line per present field.
func FormatTelemetry(t *Telemetry) string {
	timestamp := t.ReceivedAt.Format("15:04:05.000")

	kind := strings.Join(t.Envelopes, ",")
	if t.Command != nil {
		kind += " " + *t.Command
	}
	result := fmt.Sprintf("[%s] %s\n", timestamp, kind)

	if t.Empty() {
		return result
	}

	line := func(name string, value string) {
		result += fmt.Sprintf("  %-16s %s\n", name+":", value)
	}

	if t.GCodeState != nil {
		line("state", *t.GCodeState)
	}
	if t.SubtaskName != nil {
		line("subtask", *t.SubtaskName)
	}
	if t.GCodeFile != nil {
		line("file", *t.GCodeFile)
	}
	if t.Percent != nil {
		line("progress", fmt.Sprintf("%.0f%%", *t.Percent))
	}
	if t.RemainingTime != nil {
		line("remaining", FormatDuration(*t.RemainingTime))
	}
	if t.Layer != nil || t.TotalLayers != nil {
		line("layer", fmt.Sprintf("%s/%s", formatIntPtr(t.Layer), formatIntPtr(t.TotalLayers)))
	}
	if t.NozzleTemp != nil || t.NozzleTargetTemp != nil {
		line("nozzle", formatTemps(t.NozzleTemp, t.NozzleTargetTemp))
	}
	if t.BedTemp != nil || t.BedTargetTemp != nil {
		line("bed", formatTemps(t.BedTemp, t.BedTargetTemp))
	}
	if t.CoolingFan != nil {
		line("part fan", formatFan(*t.CoolingFan))
	}
	if t.AuxFan != nil {
		line("aux fan", formatFan(*t.AuxFan))
	}
	if t.ChamberFan != nil {
		line("chamber fan", formatFan(*t.ChamberFan))
	}
	if t.SpeedLevel != nil {
		line("speed profile", printer.SpeedProfile(*t.SpeedLevel).String())
	}
	if t.SpeedMagnitude != nil {
		line("speed", fmt.Sprintf("%.0f%%", *t.SpeedMagnitude))
	}
	if t.PrintError != nil {
		line("print_error", FormatErrorCode(*t.PrintError))
	}
	for _, l := range t.Lights {
		line(l.Node, l.Mode)
	}
	if t.HasAMS != nil {
		line("ams", fmt.Sprintf("%t", *t.HasAMS))
	}

	return result
}

// FormatErrorCode renders a fault code the way the printer screen and the
// wiki show it: eight hex digits split into two groups.
func FormatErrorCode(code uint32) string {
	if code == 0 {
		return "none"
	}
	return fmt.Sprintf("%04X_%04X", code>>16, code&0xFFFF)
}

// FormatDuration renders a duration as "1h05m" or "12m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *v)
}

func formatTemps(current, target *float64) string {
	c, t := "?", "?"
	if current != nil {
		c = fmt.Sprintf("%.1f", *current)
	}
	if target != nil {
		t = fmt.Sprintf("%.0f", *target)
	}
	return fmt.Sprintf("%s°C / %s°C", c, t)
}

func formatFan(v float64) string {
	return fmt.Sprintf("%.0f%%", v/fanSpeedScale*100)
}
