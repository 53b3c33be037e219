// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/bambustat/internal/config"
	"github.com/Thermoquad/bambustat/pkg/bambu"
	"github.com/Thermoquad/bambustat/pkg/intent"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Focus states
const (
	focusPrinterList = iota
	focusCommand
)

const commandTimeout = 15 * time.Second

// faultKeys maps popup keys to the recovery features they trigger
var faultKeys = []struct {
	key     string
	feature printer.Feature
	label   string
}{
	{"c", printer.FeatureContinueError, "continue"},
	{"i", printer.FeatureIgnoreError, "ignore"},
	{"r", printer.FeatureRetryError, "retry"},
	{"x", printer.FeatureStop, "stop print"},
}

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// printerItem is one configured printer in the list
type printerItem struct {
	name   string
	detail string
}

func (i printerItem) Title() string       { return i.name }
func (i printerItem) Description() string { return i.detail }
func (i printerItem) FilterValue() string { return i.name }

type monitorModel struct {
	pm *pollManager

	printerList list.Model
	active      int
	connInfo    string

	snap      printer.Snapshot
	faults    printer.FaultStatus
	stats     *bambu.Counters
	connected bool

	errorFeatures printer.Feature
	popupHidden   uint32 // fault code the popup was closed for

	command  textinput.Model
	progress progress.Model
	focus    int

	eventLog      []logEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type selectedMsg struct {
	index    int
	connInfo string
}

type snapshotMsg struct {
	snap   printer.Snapshot
	faults printer.FaultStatus
}

type connectionLostMsg struct {
	err error
}

type reconnectFailedMsg struct {
	err     error
	retryIn time.Duration
}

type reconnectedMsg struct {
	features printer.Feature
}

type commandResultMsg struct {
	line   string
	output string
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(pm *pollManager, cfg *config.Config) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = ": "
	ti.CharLimit = 256
	ti.Width = 50

	items := make([]list.Item, 0, len(cfg.Printers))
	for _, pc := range cfg.Printers {
		items = append(items, printerItem{name: pc.Name, detail: pc.Serial})
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	printerList := list.New(items, delegate, 30, 10)
	printerList.Title = "Printers"
	printerList.SetShowStatusBar(false)
	printerList.SetShowHelp(false)
	printerList.SetFilteringEnabled(false)
	printerList.Select(cfg.Active)

	return monitorModel{
		pm:            pm,
		printerList:   printerList,
		active:        cfg.Active,
		snap:          printer.NewSnapshot(),
		command:       ti,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		focus:         focusPrinterList,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.printerList.SetSize(30, max(6, m.height/2))
		m.command.Width = max(20, m.width-10)

	case monitorTickMsg:
		if p, err := m.pm.active(); err == nil {
			if bp, ok := p.(*bambu.Printer); ok {
				c := bp.Statistics().Snapshot()
				m.stats = &c
			}
		}
		return m, monitorTickCmd()

	case selectedMsg:
		m.active = msg.index
		m.connInfo = msg.connInfo
		m.connected = false
		m.snap = printer.NewSnapshot()
		m.faults = printer.FaultStatus{}
		m.stats = nil
		m.popupHidden = 0
		m.addLogEntry(fmt.Sprintf("Selected %s (%s)", m.printerName(), msg.connInfo), false)

	case snapshotMsg:
		prev := m.snap
		m.snap = msg.snap
		m.faults = msg.faults
		m.logTransitions(prev, msg.snap)

	case connectionLostMsg:
		m.connected = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case reconnectFailedMsg:
		m.addLogEntry(fmt.Sprintf("Reconnect failed: %v (retry in %s)", msg.err, msg.retryIn), true)

	case reconnectedMsg:
		m.connected = true
		m.errorFeatures = msg.features
		m.addLogEntry("Connected", false)

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), true)
			break
		}
		for _, line := range strings.Split(strings.TrimRight(msg.output, "\n"), "\n") {
			m.addLogEntry(line, false)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focus == focusCommand {
		switch key {
		case "esc":
			m.command.Blur()
			m.focus = focusPrinterList
			return m, nil
		case "enter":
			line := strings.TrimSpace(m.command.Value())
			m.command.SetValue("")
			if line == "" {
				return m, nil
			}
			m.addLogEntry("> "+line, false)
			return m, m.runCommand(line)
		}
		var cmd tea.Cmd
		m.command, cmd = m.command.Update(msg)
		return m, cmd
	}

	if m.popupVisible() {
		switch key {
		case "esc":
			m.popupHidden = m.faults.LastError
			return m, nil
		}
		for _, fk := range faultKeys {
			if key == fk.key && m.errorFeatures.Has(fk.feature) {
				return m, m.runFeature(fk.feature)
			}
		}
	}

	switch key {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case ":", "/", "tab":
		m.focus = focusCommand
		return m, m.command.Focus()

	case "enter":
		if idx := m.printerList.Index(); idx != m.active {
			m.pm.requestSwitch(idx)
		}
		return m, nil

	case "n":
		if n := len(m.printerList.Items()); n > 1 {
			next := (m.active + 1) % n
			m.printerList.Select(next)
			m.pm.requestSwitch(next)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.printerList, cmd = m.printerList.Update(msg)
	return m, cmd
}

// runCommand executes a command line against the active printer
func (m monitorModel) runCommand(line string) tea.Cmd {
	pm := m.pm
	return func() tea.Msg {
		p, err := pm.active()
		if err != nil {
			return commandResultMsg{line: line, err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		out, err := intent.Run(ctx, p, line)
		return commandResultMsg{line: line, output: out, err: err}
	}
}

// runFeature triggers a recovery action from the fault popup
func (m monitorModel) runFeature(f printer.Feature) tea.Cmd {
	pm := m.pm
	return func() tea.Msg {
		p, err := pm.active()
		if err != nil {
			return commandResultMsg{line: f.String(), err: err}
		}
		out, err := intent.Execute(context.Background(), p, intent.Intent{Kind: intent.KindFeature, Feature: f})
		return commandResultMsg{line: f.String(), output: out, err: err}
	}
}

func (m monitorModel) popupVisible() bool {
	return m.faults.Active() && m.faults.LastError != m.popupHidden
}

func (m monitorModel) printerName() string {
	items := m.printerList.Items()
	if m.active >= 0 && m.active < len(items) {
		return items[m.active].(printerItem).name
	}
	return "?"
}

func (m *monitorModel) logTransitions(prev, next printer.Snapshot) {
	if prev.State != next.State {
		m.addLogEntry(fmt.Sprintf("State %s -> %s", prev.State, next.State), next.State == printer.StateError)
	}
	if prev.LastError != next.LastError {
		if next.LastError != 0 {
			m.addLogEntry("Printer fault "+bambu.FormatErrorCode(next.LastError), true)
		} else {
			m.addLogEntry("Printer fault cleared", false)
		}
	}
	if prev.PrintFilename != next.PrintFilename && next.PrintFilename != "" {
		m.addLogEntry("Job "+next.PrintFilename, false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(0, 2)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("BAMBUSTAT - MONITOR"))
	s.WriteString("\n")

	conn := warningStyle.Render("connecting")
	if m.connected {
		conn = valueStyle.Render("connected")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s @ %s | ", m.printerName(), m.connInfo)))
	s.WriteString(conn)
	s.WriteString(headerStyle.Render(" | ':' command  'n' next printer  'q' quit"))
	s.WriteString("\n\n")

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(m.printerList.View()),
		boxStyle.Render(m.statusView()),
	)
	s.WriteString(panels)
	s.WriteString("\n")

	if m.popupVisible() {
		s.WriteString(m.popupView())
		s.WriteString("\n")
	}

	s.WriteString(m.command.View())
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(max(20, m.width-4)).Render(m.logView()))

	return s.String()
}

func (m monitorModel) statusView() string {
	snap := m.snap
	var b strings.Builder

	stateStyle := valueStyle
	switch snap.State {
	case printer.StateError:
		stateStyle = errorStyle
	case printer.StateOffline, printer.StatePaused:
		stateStyle = warningStyle
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n",
		labelStyle.Render("State:"), stateStyle.Render(snap.State.String()),
		labelStyle.Render("Speed:"), valueStyle.Render(snap.SpeedProfile.String()),
	)

	if snap.State == printer.StatePrinting || snap.State == printer.StatePaused {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Job:"), valueStyle.Render(snap.PrintFilename))
		fmt.Fprintf(&b, "%s %s\n", m.progress.ViewAs(snap.PrintProgress), valueStyle.Render(fmt.Sprintf("%.0f%%", snap.PrintProgress*100)))
		fmt.Fprintf(&b, "%s %s   %s %s\n",
			labelStyle.Render("Layer:"), valueStyle.Render(fmt.Sprintf("%d/%d", snap.CurrentLayer, snap.TotalLayers)),
			labelStyle.Render("Remaining:"), valueStyle.Render(bambu.FormatDuration(snap.RemainingTime)),
		)
	}

	fmt.Fprintf(&b, "%s %s   %s %s\n",
		labelStyle.Render("Nozzle:"), valueStyle.Render(fmt.Sprintf("%.1f/%.0f°C", snap.ExtruderTemp, snap.ExtruderTargetTemp)),
		labelStyle.Render("Bed:"), valueStyle.Render(fmt.Sprintf("%.1f/%.0f°C", snap.BedTemp, snap.BedTargetTemp)),
	)
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Fan:"), valueStyle.Render(fmt.Sprintf("%.0f%%", snap.FanSpeed*100)),
		labelStyle.Render("Aux:"), valueStyle.Render(fmt.Sprintf("%.0f%%", snap.AuxFanSpeed*100)),
		labelStyle.Render("Chamber:"), valueStyle.Render(fmt.Sprintf("%.0f%%", snap.ChamberFanSpeed*100)),
	)

	caps := snap.Capabilities
	var lights []string
	if caps.ChamberLightAvailable {
		lights = append(lights, fmt.Sprintf("chamber %s", onOffLabel(caps.ChamberLightOn)))
	}
	if caps.WorkLightAvailable {
		lights = append(lights, fmt.Sprintf("work %s", onOffLabel(caps.WorkLightOn)))
	}
	if len(lights) > 0 {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Lights:"), valueStyle.Render(strings.Join(lights, ", ")))
	}

	if snap.LastError != 0 {
		fault := bambu.FormatErrorCode(snap.LastError)
		if m.faults.Acknowledged {
			fault += " (dismissed)"
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Fault:"), errorStyle.Render(fault))
	}

	if m.stats != nil {
		fmt.Fprintf(&b, "%s %s   %s %s",
			labelStyle.Render("Docs:"), valueStyle.Render(fmt.Sprintf("%d (%.1f/s)", m.stats.TotalDocuments, m.stats.DocumentRate)),
			labelStyle.Render("Errors:"), func() string {
				errs := m.stats.ParseErrors + m.stats.AnomalousValues
				if errs > 0 {
					return errorStyle.Render(fmt.Sprintf("%d", errs))
				}
				return valueStyle.Render("0")
			}(),
		)
	}
	return b.String()
}

func (m monitorModel) popupView() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("PRINTER FAULT " + bambu.FormatErrorCode(m.faults.LastError)))
	b.WriteString("\n\n")
	for _, fk := range faultKeys {
		if m.errorFeatures.Has(fk.feature) {
			fmt.Fprintf(&b, "[%s] %s\n", fk.key, fk.label)
		}
	}
	b.WriteString("[esc] close")
	return popupStyle.Render(b.String())
}

func (m monitorModel) logView() string {
	// Calculate how many log entries we can show
	logHeight := m.height - 24
	if logHeight < 5 {
		logHeight = 5
	}

	if len(m.eventLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var b strings.Builder
	for i := startIdx; i < len(m.eventLog); i++ {
		entry := m.eventLog[i]
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func onOffLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
