// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrFixedPointOverflow is matched by every *OverflowError
	ErrFixedPointOverflow = errors.New("fixed point overflow")
	// ErrInvalidWidth is returned for field widths other than 1, 2 or 4
	ErrInvalidWidth = errors.New("invalid fixed point width")
)

// OverflowError reports a value that did not fit its encoded width and
// scale. The encoder still emits the clamped value.
type OverflowError struct {
	Field   string
	Value   float64
	Width   int
	Scale   float64
	Clamped int64
}

// Error implements the error interface
func (e *OverflowError) Error() string {
	name := e.Field
	if name == "" {
		name = "value"
	}
	return fmt.Sprintf("%s=%g overflows %d-byte field at scale %g (clamped to %d)",
		name, e.Value, e.Width, e.Scale, e.Clamped)
}

// Is makes errors.Is(err, ErrFixedPointOverflow) true
func (e *OverflowError) Is(target error) bool {
	return target == ErrFixedPointOverflow
}

// fixedRange returns the signed range representable in width bytes
func fixedRange(width int) (int64, int64, bool) {
	switch width {
	case 1:
		return math.MinInt8, math.MaxInt8, true
	case 2:
		return math.MinInt16, math.MaxInt16, true
	case 4:
		return math.MinInt32, math.MaxInt32, true
	}
	return 0, 0, false
}

// AppendFixed appends round(v*scale) to dst as a big-endian signed integer
// of the given width. Values outside the representable range are clamped
// and reported with an *OverflowError; the clamped bytes are appended in
// either case so the record layout is unaffected.
func AppendFixed(dst []byte, v float64, width int, scale float64) ([]byte, error) {
	lo, hi, ok := fixedRange(width)
	if !ok {
		return dst, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	var err error
	scaled := math.Round(v * scale)
	var n int64
	switch {
	case math.IsNaN(scaled):
		n = 0
		err = &OverflowError{Value: v, Width: width, Scale: scale, Clamped: n}
	case scaled > float64(hi):
		n = hi
		err = &OverflowError{Value: v, Width: width, Scale: scale, Clamped: n}
	case scaled < float64(lo):
		n = lo
		err = &OverflowError{Value: v, Width: width, Scale: scale, Clamped: n}
	default:
		n = int64(scaled)
	}

	switch width {
	case 1:
		dst = append(dst, byte(int8(n)))
	case 2:
		dst = binary.BigEndian.AppendUint16(dst, uint16(int16(n)))
	case 4:
		dst = binary.BigEndian.AppendUint32(dst, uint32(int32(n)))
	}
	return dst, err
}

// EncodeFixed returns round(v*scale) as a width-byte big-endian signed integer
func EncodeFixed(v float64, width int, scale float64) ([]byte, error) {
	return AppendFixed(make([]byte, 0, width), v, width, scale)
}

// DecodeFixed is the inverse of EncodeFixed; the width is len(b)
func DecodeFixed(b []byte, scale float64) (float64, error) {
	if scale == 0 {
		return 0, fmt.Errorf("zero scale")
	}
	var n int64
	switch len(b) {
	case 1:
		n = int64(int8(b[0]))
	case 2:
		n = int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		n = int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, len(b))
	}
	return float64(n) / scale, nil
}
