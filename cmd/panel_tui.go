// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vescsim/internal/session"
	"github.com/Thermoquad/vescsim/internal/state"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	panelRefreshInterval = 200 * time.Millisecond
	maxLogEntries        = 100
	coarseStepFactor     = 10
)

// Focus states
const (
	focusFieldList = iota
	focusValueInput
	focusApplyButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// fieldItem is one adjustable value in the field list
type fieldItem struct {
	field state.Field
	value float64
}

// Implement list.Item interface
func (f fieldItem) Title() string       { return f.field.Label }
func (f fieldItem) Description() string { return fmt.Sprintf("%s = %s", f.field.Name, formatValue(f.field, f.value)) }
func (f fieldItem) FilterValue() string { return f.field.Name }

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// panelModel is the Bubble Tea model for the operator panel
type panelModel struct {
	state    *state.State
	stats    *session.Statistics
	connInfo string
	faulty   bool

	fieldList  list.Model
	valueInput textinput.Model

	focusedField int
	eventLog     []logEntry
	snapshot     session.StatsSnapshot

	width    int
	height   int
	quitting bool
	// runnerErr is set once the session runner gave up
	runnerErr error
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type panelTickMsg time.Time

// sessionBatchMsg carries the runner events seen since the last batch
type sessionBatchMsg struct {
	events []session.Event
}

type runnerDoneMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newPanelModel(st *state.State, stats *session.Statistics, connInfo string, faulty bool) panelModel {
	ti := textinput.New()
	ti.Placeholder = "value"
	ti.CharLimit = 12
	ti.Width = 14

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	fieldList := list.New(nil, delegate, 36, 12)
	fieldList.Title = "Values"
	fieldList.SetShowStatusBar(false)
	fieldList.SetShowHelp(false)
	fieldList.SetFilteringEnabled(false)

	m := panelModel{
		state:        st,
		stats:        stats,
		connInfo:     connInfo,
		faulty:       faulty,
		fieldList:    fieldList,
		valueInput:   ti,
		focusedField: focusFieldList,
		width:        100,
		height:       30,
	}
	m.refreshFields()
	m.snapshot = stats.Snapshot()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m panelModel) Init() tea.Cmd {
	return panelTickCmd()
}

func panelTickCmd() tea.Cmd {
	return tea.Tick(panelRefreshInterval, func(t time.Time) tea.Msg {
		return panelTickMsg(t)
	})
}

func (m panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case panelTickMsg:
		m.refreshFields()
		m.snapshot = m.stats.Snapshot()
		return m, panelTickCmd()

	case sessionBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case runnerDoneMsg:
		m.runnerErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Session runner stopped: %v", msg.err), true)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusValueInput {
		m.valueInput, cmd = m.valueInput.Update(msg)
	}
	return m, cmd
}

func (m panelModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		// q is plain text while typing a value
		if m.focusedField != focusValueInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		if m.focusedField == focusFieldList {
			m.cycleFocus(1)
			return m, nil
		}
		m.applyInput()
		return m, nil

	case "esc":
		m.valueInput.Reset()
		m.focusedField = focusFieldList
		m.valueInput.Blur()
		return m, nil
	}

	if m.focusedField == focusFieldList {
		switch msg.String() {
		case "left", "h", "-":
			m.stepSelected(-1)
			return m, nil
		case "right", "l", "+", "=":
			m.stepSelected(1)
			return m, nil
		case "shift+left", "H":
			m.stepSelected(-coarseStepFactor)
			return m, nil
		case "shift+right", "L":
			m.stepSelected(coarseStepFactor)
			return m, nil
		case "r":
			m.resetSelected()
			return m, nil
		}
		var cmd tea.Cmd
		m.fieldList, cmd = m.fieldList.Update(msg)
		return m, cmd
	}

	if m.focusedField == focusValueInput {
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *panelModel) cycleFocus(delta int) {
	const n = focusApplyButton + 1
	m.focusedField = (m.focusedField + delta + n) % n

	if m.focusedField == focusValueInput {
		if item, ok := m.selected(); ok && m.valueInput.Value() == "" {
			m.valueInput.SetValue(formatValue(item.field, item.value))
			m.valueInput.CursorEnd()
		}
		m.valueInput.Focus()
	} else {
		m.valueInput.Blur()
	}
}

func (m panelModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("VESCSIM"))
	s.WriteString(" ")
	var connStatus string
	switch {
	case m.runnerErr != nil:
		connStatus = errorStyle.Render("STOPPED")
	case m.snapshot.Connected:
		connStatus = m.connInfo
	default:
		connStatus = warningStyle.Render("CONNECTING...")
	}
	faultStatus := "faults off"
	if m.faulty {
		faultStatus = warningStyle.Render("FAULTS ON")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | q=quit Tab=switch ←/→=step r=reset", connStatus, faultStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (fields) | right panel (editor)
	leftWidth := 36
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusFieldList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	fieldPanel := listStyle.Render(m.fieldList.View())

	editor := m.renderEditor(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle)
	editorStyle := boxStyle.Width(rightWidth)
	if m.focusedField != focusFieldList {
		editorStyle = focusedBoxStyle.Width(rightWidth)
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, fieldPanel, " ", editorStyle.Render(editor)))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m panelModel) renderEditor(statsLabelStyle, statsValueStyle, headerStyle, buttonStyle, focusedButtonStyle lipgloss.Style) string {
	var s strings.Builder

	item, ok := m.selected()
	if !ok {
		s.WriteString(headerStyle.Render("No field selected"))
		return s.String()
	}

	f := item.field
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Field:"), f.Name))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Current:"), statsValueStyle.Render(formatValue(f, item.value))))
	s.WriteString(headerStyle.Render(fmt.Sprintf("range %s .. %s, step %s, default %s",
		formatValue(f, f.Min), formatValue(f, f.Max), formatValue(f, f.Step), formatValue(f, f.Default))))
	s.WriteString("\n\n")

	s.WriteString(statsLabelStyle.Render("New value: "))
	if m.focusedField == focusValueInput {
		s.WriteString(m.valueInput.View())
	} else {
		val := m.valueInput.Value()
		if val == "" {
			val = m.valueInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	btnText := "[ Apply ]"
	if m.focusedField == focusApplyButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}

	return s.String()
}

func (m panelModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.snapshot
	errCount := st.CRCErrors + st.MalformedFrames
	errorText := statsValueStyle.Render("0")
	if errCount > 0 {
		errorText = errorStyle.Render(fmt.Sprintf("%d (%.1f/s)", errCount, st.ErrorRate))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Replies:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Replies)),
		statsLabelStyle.Render("Errors:"), errorText,
		statsLabelStyle.Render("Faults:"), statsValueStyle.Render(fmt.Sprintf("%d", st.FaultsInjected)),
		statsLabelStyle.Render("Reconnects:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Reconnects)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frm/s", st.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m panelModel) renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *panelModel) processEvent(ev session.Event) {
	short := ev.Session
	if len(short) > 8 {
		short = short[:8]
	}

	switch ev.Kind {
	case session.EventConnected:
		m.addLogEntryAt(ev.Time, fmt.Sprintf("Connected (session %s)", short), false)
	case session.EventDisconnected:
		if ev.Err != nil {
			m.addLogEntryAt(ev.Time, fmt.Sprintf("Disconnected: %v", ev.Err), true)
		} else {
			m.addLogEntryAt(ev.Time, "Disconnected", false)
		}
	case session.EventOpenFailed:
		m.addLogEntryAt(ev.Time, fmt.Sprintf("Open failed: %v (retry in %s)", ev.Err, ev.Delay), true)
	case session.EventFrameError:
		m.addLogEntryAt(ev.Time, fmt.Sprintf("Frame dropped: %v", ev.Err), true)
	case session.EventRequest:
		// Answered polls arrive at the host's poll rate; only the unusual ones are logged
		switch {
		case ev.Fault.Injected():
			m.addLogEntryAt(ev.Time, fmt.Sprintf("Corrupted %s reply (%s)", ev.Command, describeFault(ev.Fault)), false)
		case !ev.Replied:
			m.addLogEntryAt(ev.Time, fmt.Sprintf("Ignored %s request", ev.Command), false)
		}
	}
}

func describeFault(f session.Fault) string {
	var parts []string
	if f.BadCRC {
		parts = append(parts, "bad crc")
	}
	if f.Garbage > 0 {
		parts = append(parts, fmt.Sprintf("%d garbage bytes", f.Garbage))
	}
	return strings.Join(parts, ", ")
}

func (m *panelModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *panelModel) addLogEntryAt(ts time.Time, message string, isError bool) {
	if ts.IsZero() {
		ts = time.Now()
	}
	m.eventLog = append(m.eventLog, logEntry{timestamp: ts, message: message, isError: isError})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

func (m panelModel) selected() (fieldItem, bool) {
	item, ok := m.fieldList.SelectedItem().(fieldItem)
	return item, ok
}

// stepSelected moves the selected field by n steps
func (m *panelModel) stepSelected(n int) {
	item, ok := m.selected()
	if !ok {
		return
	}
	m.setField(item.field, item.value+float64(n)*item.field.Step, false)
}

func (m *panelModel) resetSelected() {
	item, ok := m.selected()
	if !ok {
		return
	}
	m.setField(item.field, item.field.Default, true)
}

func (m *panelModel) applyInput() {
	item, ok := m.selected()
	if !ok {
		return
	}
	text := strings.TrimSpace(m.valueInput.Value())
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid value %q for %s", text, item.field.Name), true)
		return
	}
	m.setField(item.field, v, true)
	m.valueInput.Reset()
	m.valueInput.Blur()
	m.focusedField = focusFieldList
}

func (m *panelModel) setField(f state.Field, v float64, logIt bool) {
	if err := m.state.Set(f.Name, v); err != nil {
		m.addLogEntry(fmt.Sprintf("Set %s failed: %v", f.Name, err), true)
		return
	}
	got, _ := m.state.Get(f.Name)
	if logIt {
		msg := fmt.Sprintf("Set %s = %s", f.Name, formatValue(f, got))
		if v < f.Min || v > f.Max {
			msg += " (clamped)"
		}
		m.addLogEntry(msg, false)
	}
	m.refreshFields()
}

// refreshFields reloads every list item from the live state
func (m *panelModel) refreshFields() {
	values := m.state.Map()
	fields := state.Fields()
	items := make([]list.Item, len(fields))
	for i, f := range fields {
		items[i] = fieldItem{field: f, value: values[f.Name]}
	}
	m.fieldList.SetItems(items)
}

func (m *panelModel) updateListSize() {
	// Each item is two lines plus the title
	listHeight := m.height / 2
	if listHeight < 6 {
		listHeight = 6
	}
	m.fieldList.SetSize(34, listHeight)
}

// formatValue prints v with as many decimals as the field step needs
func formatValue(f state.Field, v float64) string {
	decimals := 0
	if f.Step > 0 && f.Step < 1 {
		decimals = min(int(math.Ceil(-math.Log10(f.Step)-1e-9)), 6)
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
