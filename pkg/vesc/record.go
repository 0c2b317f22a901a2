// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vesc

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownField is returned when a record has no field with the given name
var ErrUnknownField = errors.New("unknown field")

// Field describes one entry of a record's wire schema.
// A zero Scale marks a raw unsigned byte.
type Field struct {
	Name  string
	Width int
	Scale float64
}

// Raw reports whether the field is an unscaled unsigned byte
func (f Field) Raw() bool {
	return f.Scale == 0
}

// fieldCodec binds a schema entry to the struct member it reads and writes
type fieldCodec[T any] struct {
	Field
	get func(*T) float64
	set func(*T, float64)
}

func schemaOf[T any](codecs []fieldCodec[T]) []Field {
	fields := make([]Field, len(codecs))
	for i, c := range codecs {
		fields[i] = c.Field
	}
	return fields
}

func schemaSize[T any](codecs []fieldCodec[T]) int {
	n := 0
	for _, c := range codecs {
		n += c.Width
	}
	return n
}

// encodeRecord writes every field in schema order. Overflowing fields are
// clamped and collected into the returned error.
func encodeRecord[T any](r *T, codecs []fieldCodec[T], size int) ([]byte, error) {
	buf := make([]byte, 0, size)
	var errs []error
	for _, c := range codecs {
		if c.Raw() {
			buf = append(buf, clampByte(c.get(r)))
			continue
		}
		var err error
		buf, err = AppendFixed(buf, c.get(r), c.Width, c.Scale)
		if err != nil {
			var oe *OverflowError
			if errors.As(err, &oe) {
				oe.Field = c.Name
			}
			errs = append(errs, err)
		}
	}
	return buf, errors.Join(errs...)
}

func decodeRecord[T any](r *T, codecs []fieldCodec[T], size int, b []byte) error {
	if len(b) != size {
		return fmt.Errorf("record length mismatch: got %d bytes, expected %d", len(b), size)
	}
	off := 0
	for _, c := range codecs {
		chunk := b[off : off+c.Width]
		off += c.Width
		if c.Raw() {
			c.set(r, float64(chunk[0]))
			continue
		}
		v, err := DecodeFixed(chunk, c.Scale)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.Name, err)
		}
		c.set(r, v)
	}
	return nil
}

func lookupField[T any](codecs []fieldCodec[T], name string) (fieldCodec[T], bool) {
	for _, c := range codecs {
		if c.Name == name {
			return c, true
		}
	}
	return fieldCodec[T]{}, false
}

// clampByte rounds v into the 0..255 range of a raw field
func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	}
	return uint8(math.Round(v))
}
