// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// DefaultBadCRC is the sentinel written in place of a real checksum
const DefaultBadCRC uint16 = 0xdead

// FaultConfig controls deliberate reply corruption
type FaultConfig struct {
	Enabled           bool
	BadCRCProbability float64
	BadCRC            uint16
	// RandomCRC writes a random wrong checksum instead of BadCRC
	RandomCRC          bool
	GarbageProbability float64
	MaxGarbage         int
	// Seed fixes the random sequence; 0 seeds from the clock
	Seed int64
}

// DefaultFaultConfig returns the bench defaults with injection disabled
func DefaultFaultConfig() FaultConfig {
	return FaultConfig{
		BadCRCProbability: 0.1,
		BadCRC:            DefaultBadCRC,
		MaxGarbage:        8,
	}
}

// Fault describes what was done to one reply
type Fault struct {
	BadCRC  bool
	Garbage int
}

// Injected reports whether the reply was altered at all
func (f Fault) Injected() bool {
	return f.BadCRC || f.Garbage > 0
}

// FaultInjector frames replies, corrupting them at the configured rates.
// It is safe for concurrent use.
type FaultInjector struct {
	cfg FaultConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaultInjector creates an injector for cfg
func NewFaultInjector(cfg FaultConfig) *FaultInjector {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FaultInjector{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Enabled reports whether the injector alters anything
func (fi *FaultInjector) Enabled() bool {
	return fi != nil && fi.cfg.Enabled
}

// Frame wraps payload in a frame. When enabled, garbage bytes may be
// appended to the payload before the checksum is computed, and the
// checksum may be replaced by a wrong one.
func (fi *FaultInjector) Frame(payload []byte) ([]byte, Fault, error) {
	if !fi.Enabled() {
		frame, err := vesc.EncodeFrame(payload)
		return frame, Fault{}, err
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	var fault Fault
	body := payload
	if fi.cfg.MaxGarbage > 0 && fi.rng.Float64() < fi.cfg.GarbageProbability {
		n := 1 + fi.rng.Intn(fi.cfg.MaxGarbage)
		if room := vesc.MaxPayloadSize - len(payload); n > room {
			n = room
		}
		if n > 0 {
			body = make([]byte, len(payload), len(payload)+n)
			copy(body, payload)
			for i := 0; i < n; i++ {
				body = append(body, byte(fi.rng.Intn(256)))
			}
			fault.Garbage = n
		}
	}

	crc := vesc.CRC16(body)
	if fi.rng.Float64() < fi.cfg.BadCRCProbability {
		fault.BadCRC = true
		crc = fi.wrongCRC(crc)
	}

	frame, err := vesc.EncodeFrameWithCRC(body, crc)
	return frame, fault, err
}

// wrongCRC returns a checksum guaranteed to differ from good
func (fi *FaultInjector) wrongCRC(good uint16) uint16 {
	if fi.cfg.RandomCRC {
		bad := uint16(fi.rng.Intn(0xFFFF))
		if bad >= good {
			bad++
		}
		return bad
	}
	if fi.cfg.BadCRC == good {
		return ^good
	}
	return fi.cfg.BadCRC
}
