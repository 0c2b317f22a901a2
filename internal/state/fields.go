// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package state

import "strings"

// FloatPrefix marks a field of the float package poll record
const FloatPrefix = "float."

// Field describes an operator-adjustable value
type Field struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
}

// Clamp limits v to the field range
func (f Field) Clamp(v float64) float64 {
	if v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

// IsFloat reports whether the field belongs to the float poll record
func (f Field) IsFloat() bool {
	return strings.HasPrefix(f.Name, FloatPrefix)
}

var registry = []Field{
	// The first four are the bench slider ranges
	{Name: "voltage_filtered", Label: "Battery Voltage", Min: 0, Max: 100, Step: 0.1, Default: 60},
	{Name: "duty_cycle_now", Label: "Duty Cycle", Min: 0, Max: 1, Step: 0.01},
	{Name: "avg_input_current", Label: "Average Input Current", Min: 0, Max: 1, Step: 0.01},
	{Name: "rpm", Label: "RPM", Min: -8000, Max: 8000, Step: 1},

	{Name: "temp_fet", Label: "FET Temperature", Min: -40, Max: 150, Step: 0.1},
	{Name: "temp_motor", Label: "Motor Temperature", Min: -40, Max: 150, Step: 0.1},
	{Name: "avg_motor_current", Label: "Motor Current", Min: -200, Max: 200, Step: 1},
	{Name: "avg_id", Label: "Id Current", Min: -200, Max: 200, Step: 1},
	{Name: "avg_iq", Label: "Iq Current", Min: -200, Max: 200, Step: 1},
	{Name: "amp_hours", Label: "Amp Hours", Min: 0, Max: 1e6, Step: 1},
	{Name: "amp_hours_charged", Label: "Amp Hours Charged", Min: 0, Max: 1e6, Step: 1},
	{Name: "watt_hours", Label: "Watt Hours", Min: 0, Max: 1e6, Step: 1},
	{Name: "watt_hours_charged", Label: "Watt Hours Charged", Min: 0, Max: 1e6, Step: 1},
	{Name: "tachometer", Label: "Tachometer", Min: -1e9, Max: 1e9, Step: 1},
	{Name: "tachometer_abs", Label: "Tachometer (abs)", Min: 0, Max: 1e9, Step: 1},
	{Name: "fault", Label: "Fault Code", Min: 0, Max: 255, Step: 1},

	{Name: FloatPrefix + "state", Label: "Float State", Min: 0, Max: 255, Step: 1, Default: 1},
	{Name: FloatPrefix + "fault", Label: "Float Fault", Min: 0, Max: 255, Step: 1},
	{Name: FloatPrefix + "pitch_or_duty_cycle", Label: "Pitch / Duty", Min: -1.28, Max: 1.27, Step: 0.01},
	{Name: FloatPrefix + "rpm", Label: "Float RPM", Min: -8000, Max: 8000, Step: 1},
	{Name: FloatPrefix + "avg_input_current", Label: "Float Input Current", Min: -100, Max: 100, Step: 0.01},
	{Name: FloatPrefix + "inp_voltage", Label: "Float Input Voltage", Min: 0, Max: 100, Step: 0.1, Default: 60},
	{Name: FloatPrefix + "headlight_brightness", Label: "Headlight", Min: 0, Max: 255, Step: 1},
	{Name: FloatPrefix + "headlight_idle_brightness", Label: "Headlight Idle", Min: 0, Max: 255, Step: 1},
	{Name: FloatPrefix + "statusbar_brightness", Label: "Status Bar", Min: 0, Max: 255, Step: 1},
}

var registryIndex = func() map[string]Field {
	m := make(map[string]Field, len(registry))
	for _, f := range registry {
		m[f.Name] = f
	}
	return m
}()

// Fields returns the adjustable fields in display order
func Fields() []Field {
	out := make([]Field, len(registry))
	copy(out, registry)
	return out
}

// LookupField returns the registry entry for name
func LookupField(name string) (Field, bool) {
	f, ok := registryIndex[name]
	return f, ok
}
