// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

// CommandKind identifies a request payload. The set is closed: anything
// not listed here parses as CommandUnknown.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandGetValues
	CommandFloatPoll
	CommandFloatChargingState
	CommandFloatLCMDebug
	CommandCustomApp // custom-app data with sub-bytes we do not answer
)

func (k CommandKind) String() string {
	switch k {
	case CommandGetValues:
		return "GET_VALUES"
	case CommandFloatPoll:
		return "FLOAT_POLL"
	case CommandFloatChargingState:
		return "FLOAT_CHARGING_STATE"
	case CommandFloatLCMDebug:
		return "FLOAT_LCM_DEBUG"
	case CommandCustomApp:
		return "CUSTOM_APP_DATA"
	}
	return "UNKNOWN"
}

// Command is a classified request payload
type Command struct {
	Kind    CommandKind
	Payload []byte
}

// ID returns the command byte, or 0 for an empty payload
func (c Command) ID() byte {
	if len(c.Payload) == 0 {
		return 0
	}
	return c.Payload[0]
}

// ParseCommand classifies a deframed payload
func ParseCommand(payload []byte) Command {
	return Command{Kind: classify(payload), Payload: payload}
}

func classify(p []byte) CommandKind {
	if len(p) == 0 {
		return CommandUnknown
	}
	switch p[0] {
	case CommGetValues:
		return CommandGetValues
	case CommCustomAppData:
		if len(p) < 3 || p[1] != FloatPackageMagic {
			return CommandCustomApp
		}
		switch p[2] {
		case FloatCmdPoll:
			return CommandFloatPoll
		case FloatCmdChargingState:
			return CommandFloatChargingState
		case FloatCmdLCMDebug:
			return CommandFloatLCMDebug
		}
		return CommandCustomApp
	}
	return CommandUnknown
}

// Request payloads a host sends for the commands this package answers
var (
	GetValuesRequest = []byte{CommGetValues}
	FloatPollRequest = []byte{CommCustomAppData, FloatPackageMagic, FloatCmdPoll}
)
