// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

// Decoder implements the frame decoder state machine for a byte stream
type Decoder struct {
	state   int
	length  int
	payload []byte
	crc     uint16
	skipped uint64
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:   stateIdle,
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.length = 0
	d.payload = d.payload[:0]
	d.crc = 0
}

// Skipped returns the number of bytes discarded while hunting for a start byte
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

// InFrame reports whether the decoder is part way through a frame
func (d *Decoder) InFrame() bool {
	return d.state != stateIdle
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns the payload of a completed frame, or nil if the frame is
// incomplete. Returns a *FrameError if the frame is invalid; the decoder
// is back in idle state afterwards.
//
// The returned payload is a fresh copy owned by the caller.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		if b != StartByte {
			d.skipped++
			return nil, nil
		}
		d.state = stateLength
		return nil, nil

	case stateLength:
		d.length = int(b)
		d.payload = d.payload[:0]
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		// No escaping: framing bytes are legal payload data here
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	case stateEnd:
		if b != EndByte {
			err := malformed("expected end byte, got 0x%02X after %d payload bytes", b, d.length)
			d.Reset()
			return nil, err
		}

		calculated := CRC16(d.payload)
		if calculated != d.crc {
			err := &FrameError{Kind: FrameCRCMismatch, Expected: calculated, Actual: d.crc}
			d.Reset()
			return nil, err
		}

		payload := make([]byte, len(d.payload))
		copy(payload, d.payload)
		d.Reset()
		return payload, nil

	default:
		d.Reset()
		return nil, malformed("invalid decoder state %d", d.state)
	}
}

// Decode feeds data through the decoder and returns every completed
// payload together with the frame errors seen along the way.
func (d *Decoder) Decode(data []byte) ([][]byte, []error) {
	var payloads [][]byte
	var errs []error
	for _, b := range data {
		payload, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if payload != nil {
			payloads = append(payloads, payload)
		}
	}
	return payloads, errs
}
