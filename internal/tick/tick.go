// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tick advances the simulated controller on a fixed interval
package tick

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// DefaultInterval is the 100 Hz update rate
const DefaultInterval = 10 * time.Millisecond

// Driver integrates counters from the live values on every tick
type Driver struct {
	State    *state.State
	Interval time.Duration
	// Mirror copies rpm, voltage, input current and duty into the float
	// poll record
	Mirror bool
	// Sweep drives rpm along a triangle wave between -SweepRPM and
	// +SweepRPM with period SweepPeriod
	Sweep       bool
	SweepRPM    float64
	SweepPeriod time.Duration
	Logger      *zap.Logger

	elapsed time.Duration
}

// Run ticks until ctx is done
func (d *Driver) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("tick driver started", zap.Duration("interval", interval), zap.Bool("sweep", d.Sweep))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("tick driver stopped")
			return
		case now := <-ticker.C:
			d.Step(now.Sub(last))
			last = now
		}
	}
}

// Step advances the simulation by dt
func (d *Driver) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	d.elapsed += dt
	secs := dt.Seconds()

	var sweepRPM float64
	if d.Sweep && d.SweepPeriod > 0 {
		sweepRPM = d.SweepRPM * triangle(float64(d.elapsed)/float64(d.SweepPeriod))
	}

	d.State.Update(func(v *vesc.TelemetrySnapshot, f *vesc.CustomAppPollResponse) {
		if d.Sweep && d.SweepPeriod > 0 {
			v.RPM = sweepRPM
		}

		// Tachometer counts motor revolutions
		revs := v.RPM / 60 * secs
		v.Tachometer += revs
		v.TachometerAbs += math.Abs(revs)

		hours := secs / 3600
		if v.AvgInputCurrent >= 0 {
			v.AmpHours += v.AvgInputCurrent * hours
			v.WattHours += v.AvgInputCurrent * v.VoltageFiltered * hours
		} else {
			v.AmpHoursCharged -= v.AvgInputCurrent * hours
			v.WattHoursCharged -= v.AvgInputCurrent * v.VoltageFiltered * hours
		}

		if d.Mirror {
			f.RPM = v.RPM
			f.InputVoltage = v.VoltageFiltered
			f.AvgInputCurrent = v.AvgInputCurrent
			f.PitchOrDutyCycle = v.DutyCycleNow
		}
	})
}

// triangle maps phase to [-1, 1]: -1 at whole numbers, +1 at halves
func triangle(phase float64) float64 {
	_, frac := math.Modf(phase)
	return 1 - 4*math.Abs(frac-0.5)
}
