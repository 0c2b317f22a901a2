// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import (
	"fmt"
	"strings"
	"time"
)

// FormatPayload formats a deframed payload into a human-readable string.
// Replies of known size are decoded field by field.
func FormatPayload(ts time.Time, payload []byte) string {
	cmd := ParseCommand(payload)
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", ts.Format("15:04:05.000"), cmd.Kind, cmd.ID(), len(payload))

	switch {
	case cmd.Kind == CommandGetValues && len(payload) == TelemetrySnapshotSize:
		if t, err := DecodeTelemetrySnapshot(payload); err == nil {
			return result + FormatTelemetry(t)
		}
	case cmd.Kind == CommandFloatPoll && len(payload) == FloatPollSize:
		if f, err := DecodeCustomAppPollResponse(payload); err == nil {
			return result + FormatFloatPoll(f)
		}
	case len(payload) <= 3:
		// Requests carry no body worth decoding
		return result + "  (request)\n"
	}

	return result + FormatHex(payload)
}

// FormatTelemetry formats a telemetry snapshot, one field per line
func FormatTelemetry(t TelemetrySnapshot) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  Temp FET: %.1f°C, Temp Motor: %.1f°C\n", t.TempFET, t.TempMotor)
	fmt.Fprintf(&s, "  Motor Current: %.2f A, Input Current: %.2f A\n", t.AvgMotorCurrent, t.AvgInputCurrent)
	fmt.Fprintf(&s, "  Id: %.2f A, Iq: %.2f A\n", t.AvgID, t.AvgIQ)
	fmt.Fprintf(&s, "  Duty: %.1f%%, RPM: %.0f\n", t.DutyCycleNow*100, t.RPM)
	fmt.Fprintf(&s, "  Voltage: %.1f V\n", t.VoltageFiltered)
	fmt.Fprintf(&s, "  Ah: %.0f (charged %.0f), Wh: %.0f (charged %.0f)\n",
		t.AmpHours, t.AmpHoursCharged, t.WattHours, t.WattHoursCharged)
	fmt.Fprintf(&s, "  Tacho: %.0f (abs %.0f)\n", t.Tachometer, t.TachometerAbs)
	return s.String()
}

// FormatFloatPoll formats a float package poll response
func FormatFloatPoll(f CustomAppPollResponse) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  State: %s (0x%02X), Fault: 0x%02X\n", f.State, uint8(f.State), f.Fault)
	fmt.Fprintf(&s, "  Pitch/Duty: %.2f, RPM: %.1f\n", f.PitchOrDutyCycle, f.RPM)
	fmt.Fprintf(&s, "  Input Current: %.2f A, Voltage: %.1f V\n", f.AvgInputCurrent, f.InputVoltage)
	fmt.Fprintf(&s, "  Headlight: %d (idle %d), Statusbar: %d\n",
		f.HeadlightBrightness, f.HeadlightIdleBrightness, f.StatusbarBrightness)
	return s.String()
}

// FormatHex returns an indented hex dump, 16 bytes per line
func FormatHex(data []byte) string {
	var s strings.Builder
	s.WriteString("  Payload: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n           ")
		}
		fmt.Fprintf(&s, "%02X ", b)
	}
	s.WriteString("\n")
	return s.String()
}
