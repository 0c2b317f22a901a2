// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vescsim/internal/config"
	"github.com/Thermoquad/vescsim/internal/session"
	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

func newTestPanel(t *testing.T) (panelModel, *state.State) {
	t.Helper()
	st := state.New()
	return newPanelModel(st, session.NewStatistics(), "Serial: /dev/null @ 115200 baud", false), st
}

func press(t *testing.T, m panelModel, msg tea.KeyMsg) panelModel {
	t.Helper()
	next, _ := m.Update(msg)
	pm, ok := next.(panelModel)
	require.True(t, ok)
	return pm
}

func lastLog(m panelModel) logEntry {
	if len(m.eventLog) == 0 {
		return logEntry{}
	}
	return m.eventLog[len(m.eventLog)-1]
}

func TestPanel_ListsEveryField(t *testing.T) {
	m, _ := newTestPanel(t)
	assert.Len(t, m.fieldList.Items(), len(state.Fields()))

	item, ok := m.selected()
	require.True(t, ok)
	assert.Equal(t, "voltage_filtered", item.field.Name)
	assert.Equal(t, 60.0, item.value)
}

func TestPanel_StepSelected(t *testing.T) {
	m, st := newTestPanel(t)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	v, err := st.Get("voltage_filtered")
	require.NoError(t, err)
	assert.InDelta(t, 60.1, v, 1e-9)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyShiftLeft})
	v, _ = st.Get("voltage_filtered")
	assert.InDelta(t, 59.1, v, 1e-9)

	item, _ := m.selected()
	assert.InDelta(t, 59.1, item.value, 1e-9, "list should show the new value")
}

func TestPanel_StepClampsAtRange(t *testing.T) {
	m, st := newTestPanel(t)
	require.NoError(t, st.Set("voltage_filtered", 100))
	m.refreshFields()

	press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	v, _ := st.Get("voltage_filtered")
	assert.Equal(t, 100.0, v)
}

func TestPanel_ResetToDefault(t *testing.T) {
	m, st := newTestPanel(t)
	require.NoError(t, st.Set("voltage_filtered", 12))
	m.refreshFields()

	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	v, _ := st.Get("voltage_filtered")
	assert.Equal(t, 60.0, v)
	assert.Contains(t, lastLog(m).message, "Set voltage_filtered = 60.0")
}

func TestPanel_ApplyTypedValue(t *testing.T) {
	m, st := newTestPanel(t)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusValueInput, m.focusedField)
	assert.Equal(t, "60.0", m.valueInput.Value(), "input starts from the current value")

	m.valueInput.SetValue("42.5")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	v, _ := st.Get("voltage_filtered")
	assert.Equal(t, 42.5, v)
	assert.Equal(t, focusFieldList, m.focusedField)
	assert.Empty(t, m.valueInput.Value())
	assert.False(t, lastLog(m).isError)
}

func TestPanel_ApplyClampedValue(t *testing.T) {
	m, st := newTestPanel(t)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.valueInput.SetValue("500")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	v, _ := st.Get("voltage_filtered")
	assert.Equal(t, 100.0, v)
	assert.Contains(t, lastLog(m).message, "(clamped)")
}

func TestPanel_ApplyInvalidValue(t *testing.T) {
	m, st := newTestPanel(t)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.valueInput.SetValue("fast")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	v, _ := st.Get("voltage_filtered")
	assert.Equal(t, 60.0, v)
	assert.True(t, lastLog(m).isError)
	assert.Equal(t, focusValueInput, m.focusedField, "focus stays on the input to correct the value")
}

func TestPanel_QuitKeys(t *testing.T) {
	m, _ := newTestPanel(t)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, next.(panelModel).quitting)

	// q is text while the value input has focus
	m, _ = newTestPanel(t)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.False(t, m.quitting)
}

func TestPanel_FocusCycles(t *testing.T) {
	m, _ := newTestPanel(t)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusApplyButton, m.focusedField)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusFieldList, m.focusedField)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, focusApplyButton, m.focusedField)
}

func TestPanel_SessionEvents(t *testing.T) {
	m, _ := newTestPanel(t)
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	next, _ := m.Update(sessionBatchMsg{events: []session.Event{
		{Time: ts, Kind: session.EventConnected, Session: "0123456789abcdef"},
		{Time: ts, Kind: session.EventRequest, Command: vesc.CommandGetValues, Replied: true},
		{Time: ts, Kind: session.EventRequest, Command: vesc.CommandFloatLCMDebug},
		{Time: ts, Kind: session.EventRequest, Command: vesc.CommandGetValues, Replied: true,
			Fault: session.Fault{BadCRC: true, Garbage: 2}},
		{Time: ts, Kind: session.EventFrameError, Err: vesc.ErrCRCMismatch},
	}})
	m = next.(panelModel)

	require.Len(t, m.eventLog, 4, "plain answered requests are not logged")
	assert.Equal(t, "Connected (session 01234567)", m.eventLog[0].message)
	assert.Equal(t, "Ignored FLOAT_LCM_DEBUG request", m.eventLog[1].message)
	assert.Equal(t, "Corrupted GET_VALUES reply (bad crc, 2 garbage bytes)", m.eventLog[2].message)
	assert.True(t, m.eventLog[3].isError)
	assert.Equal(t, ts, m.eventLog[0].timestamp)
}

func TestPanel_EventLogIsBounded(t *testing.T) {
	m, _ := newTestPanel(t)
	for i := 0; i < maxLogEntries+25; i++ {
		m.addLogEntry("entry", false)
	}
	assert.Len(t, m.eventLog, maxLogEntries)
}

func TestPanel_RunnerDone(t *testing.T) {
	m, _ := newTestPanel(t)
	next, _ := m.Update(runnerDoneMsg{err: session.ErrRetriesExhausted})
	m = next.(panelModel)
	assert.ErrorIs(t, m.runnerErr, session.ErrRetriesExhausted)
	assert.Contains(t, m.View(), "STOPPED")
}

func TestPanel_View(t *testing.T) {
	m, _ := newTestPanel(t)
	out := m.View()
	assert.Contains(t, out, "VESCSIM")
	assert.Contains(t, out, "Battery Voltage")
	assert.Contains(t, out, "CONNECTING...")
	assert.Contains(t, out, "(no events yet)")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		step float64
		v    float64
		want string
	}{
		{1, 1500, "1500"},
		{0.1, 60, "60.0"},
		{0.01, 0.5, "0.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(state.Field{Step: tt.step}, tt.v))
	}
}

func TestNewConnOpener(t *testing.T) {
	_, err := newConnOpener(&config.Config{})
	assert.True(t, errors.Is(err, ErrNoTransport))

	o, err := newConnOpener(&config.Config{Serial: config.SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200}})
	require.NoError(t, err)
	assert.Equal(t, "Serial: /dev/ttyUSB0 @ 115200 baud", o.String())

	// The bridge wins over a port; no username means no password prompt
	o, err = newConnOpener(&config.Config{
		Serial: config.SerialConfig{Port: "/dev/ttyUSB0"},
		Bridge: config.BridgeConfig{URL: "ws://bridge.local/serial"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.String(), "WebSocket: ws://bridge.local/serial"))
}
