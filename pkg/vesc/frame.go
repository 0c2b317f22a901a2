// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is matched by structurally invalid frames
	ErrMalformed = errors.New("malformed frame")
	// ErrCRCMismatch is matched by frames failing the integrity check
	ErrCRCMismatch = errors.New("CRC mismatch")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize
	ErrPayloadTooLarge = errors.New("payload too large")
)

// FrameErrorKind classifies a frame decoding failure
type FrameErrorKind int

const (
	FrameMalformed FrameErrorKind = iota
	FrameCRCMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameMalformed:
		return "malformed"
	case FrameCRCMismatch:
		return "crc_mismatch"
	}
	return "unknown"
}

// FrameError describes why a frame was dropped
type FrameError struct {
	Kind   FrameErrorKind
	Reason string

	// Populated for FrameCRCMismatch
	Expected uint16 // computed over the received payload
	Actual   uint16 // carried in the frame
}

// Error implements the error interface
func (e *FrameError) Error() string {
	if e.Kind == FrameCRCMismatch {
		return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Actual)
	}
	return "malformed frame: " + e.Reason
}

// Is maps the error kind onto ErrMalformed and ErrCRCMismatch
func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == FrameMalformed
	case ErrCRCMismatch:
		return e.Kind == FrameCRCMismatch
	}
	return false
}

func malformed(format string, args ...interface{}) *FrameError {
	return &FrameError{Kind: FrameMalformed, Reason: fmt.Sprintf(format, args...)}
}

// EncodeFrame wraps payload in start/length/CRC/end framing
func EncodeFrame(payload []byte) ([]byte, error) {
	return EncodeFrameWithCRC(payload, CRC16(payload))
}

// EncodeFrameWithCRC frames payload with a caller-chosen CRC value.
// Used to emit deliberately corrupt frames.
func EncodeFrameWithCRC(payload []byte, crc uint16) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, len(payload)+FrameOverhead)
	frame = append(frame, StartByte, byte(len(payload)))
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint16(frame, crc)
	frame = append(frame, EndByte)
	return frame, nil
}

// MustEncodeFrame is EncodeFrame for payloads known to fit.
// Panics if the payload is too large.
func MustEncodeFrame(payload []byte) []byte {
	frame, err := EncodeFrame(payload)
	if err != nil {
		panic(fmt.Sprintf("vesc: encode error: %v", err))
	}
	return frame
}

// DecodeFrame validates one complete frame and returns its payload.
// The returned slice aliases frame.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < FrameOverhead {
		return nil, malformed("frame too short: %d bytes", len(frame))
	}
	if frame[0] != StartByte {
		return nil, malformed("invalid start byte 0x%02X", frame[0])
	}
	length := int(frame[1])
	if len(frame) != length+FrameOverhead {
		return nil, malformed("length mismatch: declared %d, frame carries %d", length, len(frame)-FrameOverhead)
	}
	if frame[len(frame)-1] != EndByte {
		return nil, malformed("invalid end byte 0x%02X", frame[len(frame)-1])
	}

	payload := frame[2 : 2+length]
	got := binary.BigEndian.Uint16(frame[2+length:])
	want := CRC16(payload)
	if got != want {
		return nil, &FrameError{Kind: FrameCRCMismatch, Expected: want, Actual: got}
	}
	return payload, nil
}
