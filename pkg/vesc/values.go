// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import "fmt"

// FaultCode is the motor controller fault code (mc_fault_code)
type FaultCode uint8

// Fault code values
const (
	FaultNone FaultCode = iota
	FaultOverVoltage
	FaultUnderVoltage
	FaultDRV
	FaultAbsOverCurrent
	FaultOverTempFET
	FaultOverTempMotor
	FaultGateDriverOverVoltage
	FaultGateDriverUnderVoltage
	FaultMCUUnderVoltage
	FaultBootingFromWatchdogReset
)

var faultCodeNames = []string{
	"NONE",
	"OVER_VOLTAGE",
	"UNDER_VOLTAGE",
	"DRV",
	"ABS_OVER_CURRENT",
	"OVER_TEMP_FET",
	"OVER_TEMP_MOTOR",
	"GATE_DRIVER_OVER_VOLTAGE",
	"GATE_DRIVER_UNDER_VOLTAGE",
	"MCU_UNDER_VOLTAGE",
	"BOOTING_FROM_WATCHDOG_RESET",
}

func (f FaultCode) String() string {
	if int(f) < len(faultCodeNames) {
		return faultCodeNames[f]
	}
	return fmt.Sprintf("FAULT_0x%02X", uint8(f))
}

// TelemetrySnapshot is the COMM_GET_VALUES reply.
//
// Fault is tracked but not transmitted: the last byte of the encoded
// record repeats ID, which host software expects at that position.
type TelemetrySnapshot struct {
	ID               uint8
	TempFET          float64
	TempMotor        float64
	AvgMotorCurrent  float64
	AvgInputCurrent  float64
	AvgID            float64
	AvgIQ            float64
	DutyCycleNow     float64
	RPM              float64
	VoltageFiltered  float64
	AmpHours         float64
	AmpHoursCharged  float64
	WattHours        float64
	WattHoursCharged float64
	Tachometer       float64
	TachometerAbs    float64
	Fault            FaultCode
}

type valuesCodec = fieldCodec[TelemetrySnapshot]

var valuesSchema = []valuesCodec{
	{Field{"id", 1, 0},
		func(t *TelemetrySnapshot) float64 { return float64(t.ID) },
		func(t *TelemetrySnapshot, v float64) { t.ID = clampByte(v) }},
	{Field{"temp_fet", 2, 10},
		func(t *TelemetrySnapshot) float64 { return t.TempFET },
		func(t *TelemetrySnapshot, v float64) { t.TempFET = v }},
	{Field{"temp_motor", 2, 10},
		func(t *TelemetrySnapshot) float64 { return t.TempMotor },
		func(t *TelemetrySnapshot, v float64) { t.TempMotor = v }},
	{Field{"avg_motor_current", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.AvgMotorCurrent },
		func(t *TelemetrySnapshot, v float64) { t.AvgMotorCurrent = v }},
	{Field{"avg_input_current", 4, 100},
		func(t *TelemetrySnapshot) float64 { return t.AvgInputCurrent },
		func(t *TelemetrySnapshot, v float64) { t.AvgInputCurrent = v }},
	{Field{"avg_id", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.AvgID },
		func(t *TelemetrySnapshot, v float64) { t.AvgID = v }},
	{Field{"avg_iq", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.AvgIQ },
		func(t *TelemetrySnapshot, v float64) { t.AvgIQ = v }},
	{Field{"duty_cycle_now", 2, 1000},
		func(t *TelemetrySnapshot) float64 { return t.DutyCycleNow },
		func(t *TelemetrySnapshot, v float64) { t.DutyCycleNow = v }},
	{Field{"rpm", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.RPM },
		func(t *TelemetrySnapshot, v float64) { t.RPM = v }},
	{Field{"voltage_filtered", 2, 10},
		func(t *TelemetrySnapshot) float64 { return t.VoltageFiltered },
		func(t *TelemetrySnapshot, v float64) { t.VoltageFiltered = v }},
	{Field{"amp_hours", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.AmpHours },
		func(t *TelemetrySnapshot, v float64) { t.AmpHours = v }},
	{Field{"amp_hours_charged", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.AmpHoursCharged },
		func(t *TelemetrySnapshot, v float64) { t.AmpHoursCharged = v }},
	{Field{"watt_hours", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.WattHours },
		func(t *TelemetrySnapshot, v float64) { t.WattHours = v }},
	{Field{"watt_hours_charged", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.WattHoursCharged },
		func(t *TelemetrySnapshot, v float64) { t.WattHoursCharged = v }},
	{Field{"tachometer", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.Tachometer },
		func(t *TelemetrySnapshot, v float64) { t.Tachometer = v }},
	{Field{"tachometer_abs", 4, 1},
		func(t *TelemetrySnapshot) float64 { return t.TachometerAbs },
		func(t *TelemetrySnapshot, v float64) { t.TachometerAbs = v }},
	// Repeats id. Decoding it again is harmless.
	{Field{"id", 1, 0},
		func(t *TelemetrySnapshot) float64 { return float64(t.ID) },
		func(t *TelemetrySnapshot, v float64) { t.ID = clampByte(v) }},
}

// NewTelemetrySnapshot returns a zeroed snapshot with the reply ID set
func NewTelemetrySnapshot() TelemetrySnapshot {
	return TelemetrySnapshot{ID: CommGetValues}
}

// TelemetrySnapshotSchema returns the wire schema in transmission order
func TelemetrySnapshotSchema() []Field {
	return schemaOf(valuesSchema)
}

// Encode serializes the snapshot into its fixed TelemetrySnapshotSize-byte
// layout. A non-nil error lists fields that were clamped; the returned
// bytes are valid either way.
func (t TelemetrySnapshot) Encode() ([]byte, error) {
	return encodeRecord(&t, valuesSchema, TelemetrySnapshotSize)
}

// DecodeTelemetrySnapshot parses a COMM_GET_VALUES reply payload
func DecodeTelemetrySnapshot(b []byte) (TelemetrySnapshot, error) {
	var t TelemetrySnapshot
	err := decodeRecord(&t, valuesSchema, TelemetrySnapshotSize, b)
	return t, err
}

// Get returns the named field value
func (t *TelemetrySnapshot) Get(name string) (float64, error) {
	if name == "fault" {
		return float64(t.Fault), nil
	}
	c, ok := lookupField(valuesSchema, name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return c.get(t), nil
}

// Set assigns the named field. Raw byte fields are rounded and clamped
// to 0..255.
func (t *TelemetrySnapshot) Set(name string, v float64) error {
	if name == "fault" {
		t.Fault = FaultCode(clampByte(v))
		return nil
	}
	c, ok := lookupField(valuesSchema, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	c.set(t, v)
	return nil
}
