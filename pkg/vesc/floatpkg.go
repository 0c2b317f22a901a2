// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import "fmt"

// RunState is the float package ride state reported in a poll response
type RunState uint8

// Run state values
const (
	RunStateStartup RunState = iota
	RunStateRunning
	RunStateRunningTiltback
	RunStateRunningWheelslip
	RunStateRunningUpsideDown
	RunStateRunningFlywheel
	RunStateStopped
	RunStateDisabled
)

var runStateNames = []string{
	"STARTUP",
	"RUNNING",
	"RUNNING_TILTBACK",
	"RUNNING_WHEELSLIP",
	"RUNNING_UPSIDEDOWN",
	"RUNNING_FLYWHEEL",
	"STOPPED",
	"DISABLED",
}

func (s RunState) String() string {
	if int(s) < len(runStateNames) {
		return runStateNames[s]
	}
	return fmt.Sprintf("STATE_0x%02X", uint8(s))
}

// CustomAppPollResponse is the float package reply to a custom-app poll
// ([0x24 0x65 0x18]).
type CustomAppPollResponse struct {
	ID                      uint8
	FloatPackage            uint8
	FloatCommand            uint8
	State                   RunState
	Fault                   uint8
	PitchOrDutyCycle        float64
	RPM                     float64
	AvgInputCurrent         float64
	InputVoltage            float64
	HeadlightBrightness     uint8
	HeadlightIdleBrightness uint8
	StatusbarBrightness     uint8
}

type floatCodec = fieldCodec[CustomAppPollResponse]

var floatPollSchema = []floatCodec{
	{Field{"id", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.ID) },
		func(f *CustomAppPollResponse, v float64) { f.ID = clampByte(v) }},
	{Field{"floatpkg", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.FloatPackage) },
		func(f *CustomAppPollResponse, v float64) { f.FloatPackage = clampByte(v) }},
	{Field{"floatcmd", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.FloatCommand) },
		func(f *CustomAppPollResponse, v float64) { f.FloatCommand = clampByte(v) }},
	{Field{"state", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.State) },
		func(f *CustomAppPollResponse, v float64) { f.State = RunState(clampByte(v)) }},
	{Field{"fault", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.Fault) },
		func(f *CustomAppPollResponse, v float64) { f.Fault = clampByte(v) }},
	{Field{"pitch_or_duty_cycle", 1, 100},
		func(f *CustomAppPollResponse) float64 { return f.PitchOrDutyCycle },
		func(f *CustomAppPollResponse, v float64) { f.PitchOrDutyCycle = v }},
	{Field{"rpm", 2, 10},
		func(f *CustomAppPollResponse) float64 { return f.RPM },
		func(f *CustomAppPollResponse, v float64) { f.RPM = v }},
	{Field{"avg_input_current", 2, 100},
		func(f *CustomAppPollResponse) float64 { return f.AvgInputCurrent },
		func(f *CustomAppPollResponse, v float64) { f.AvgInputCurrent = v }},
	{Field{"inp_voltage", 2, 10},
		func(f *CustomAppPollResponse) float64 { return f.InputVoltage },
		func(f *CustomAppPollResponse, v float64) { f.InputVoltage = v }},
	{Field{"headlight_brightness", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.HeadlightBrightness) },
		func(f *CustomAppPollResponse, v float64) { f.HeadlightBrightness = clampByte(v) }},
	{Field{"headlight_idle_brightness", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.HeadlightIdleBrightness) },
		func(f *CustomAppPollResponse, v float64) { f.HeadlightIdleBrightness = clampByte(v) }},
	{Field{"statusbar_brightness", 1, 0},
		func(f *CustomAppPollResponse) float64 { return float64(f.StatusbarBrightness) },
		func(f *CustomAppPollResponse, v float64) { f.StatusbarBrightness = clampByte(v) }},
}

// NewCustomAppPollResponse returns a zeroed poll response carrying the
// custom-app command and float package header bytes
func NewCustomAppPollResponse() CustomAppPollResponse {
	return CustomAppPollResponse{
		ID:           CommCustomAppData,
		FloatPackage: FloatPackageMagic,
		FloatCommand: FloatCmdPoll,
	}
}

// CustomAppPollSchema returns the wire schema in transmission order
func CustomAppPollSchema() []Field {
	return schemaOf(floatPollSchema)
}

// Encode serializes the response into its fixed FloatPollSize-byte layout
func (f CustomAppPollResponse) Encode() ([]byte, error) {
	return encodeRecord(&f, floatPollSchema, FloatPollSize)
}

// DecodeCustomAppPollResponse parses a float package poll reply payload
func DecodeCustomAppPollResponse(b []byte) (CustomAppPollResponse, error) {
	var f CustomAppPollResponse
	err := decodeRecord(&f, floatPollSchema, FloatPollSize, b)
	return f, err
}

// Get returns the named field value
func (f *CustomAppPollResponse) Get(name string) (float64, error) {
	c, ok := lookupField(floatPollSchema, name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return c.get(f), nil
}

// Set assigns the named field
func (f *CustomAppPollResponse) Set(name string, v float64) error {
	c, ok := lookupField(floatPollSchema, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	c.set(f, v)
	return nil
}
