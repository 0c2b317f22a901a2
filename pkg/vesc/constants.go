// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vesc implements the framed binary protocol spoken by VESC-class
// motor controllers over a serial link.
//
// A frame is laid out as
//
//	[0x02][length:u8][payload: length bytes][crc16: u16 big-endian][0x03]
//
// The payload is never escaped; the length prefix alone delimits it. The
// first payload byte is the command, and the custom-app family carries two
// sub-command bytes after it. This package provides the CRC16, fixed-point
// field encoding, the two reply records, frame encoding/decoding and
// command classification.
package vesc

// Protocol framing bytes
const (
	StartByte = 0x02
	EndByte   = 0x03
)

// Frame size limits
const (
	MaxPayloadSize = 255
	FrameOverhead  = 5 // start + length + crc(2) + end
	MaxFrameSize   = MaxPayloadSize + FrameOverhead
)

// Command bytes (payload[0])
const (
	CommGetValues     = 0x04
	CommCustomAppData = 0x24
)

// Float package sub-commands (payload[1], payload[2])
const (
	FloatPackageMagic     = 0x65
	FloatCmdPoll          = 0x18
	FloatCmdChargingState = 0x1c
	FloatCmdLCMDebug      = 0x63
)

// Record sizes on the wire. These follow from the field schemas in
// values.go and floatpkg.go and are checked against them in tests.
const (
	TelemetrySnapshotSize = 54
	FloatPollSize         = 15
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
