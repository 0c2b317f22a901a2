// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// Reply is the outcome of dispatching one request payload
type Reply struct {
	Command vesc.Command
	// Frame is the framed response, nil when the command is not answered
	Frame []byte
	Fault Fault
}

// Dispatcher maps request payloads to framed replies
type Dispatcher struct {
	state   *state.State
	faults  *FaultInjector
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Clamped fields repeat on every poll until the operator moves the
	// value back into range
	overflowLog *rate.Limiter
}

// NewDispatcher creates a dispatcher answering from st. faults may be nil.
func NewDispatcher(st *state.State, faults *FaultInjector, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		state:       st,
		faults:      faults,
		logger:      logger,
		metrics:     m,
		overflowLog: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Dispatch classifies payload and builds the reply
func (d *Dispatcher) Dispatch(payload []byte) Reply {
	cmd := vesc.ParseCommand(payload)
	reply := Reply{Command: cmd}

	var body []byte
	var encErr error
	switch cmd.Kind {
	case vesc.CommandGetValues:
		body, encErr = d.state.EncodeValues()
	case vesc.CommandFloatPoll:
		body, encErr = d.state.EncodeFloatPoll()
	case vesc.CommandFloatChargingState, vesc.CommandFloatLCMDebug, vesc.CommandCustomApp:
		d.logger.Debug("custom app command not answered",
			zap.Stringer("cmd", cmd.Kind), zap.Binary("payload", payload))
		return reply
	default:
		d.logger.Info("unknown command", zap.Uint8("id", cmd.ID()), zap.Int("len", len(payload)))
		return reply
	}
	d.metrics.Request(cmd.Kind.String())

	if encErr != nil {
		d.reportOverflow(cmd.Kind, encErr)
	}

	frame, fault, err := d.faults.Frame(body)
	if err != nil {
		d.logger.Error("frame reply", zap.Stringer("cmd", cmd.Kind), zap.Error(err))
		return reply
	}
	if fault.BadCRC {
		d.metrics.FaultInjected("bad_crc")
	}
	if fault.Garbage > 0 {
		d.metrics.FaultInjected("garbage")
	}

	reply.Frame = frame
	reply.Fault = fault
	return reply
}

func (d *Dispatcher) reportOverflow(kind vesc.CommandKind, err error) {
	fields := overflowFields(err)
	for _, f := range fields {
		d.metrics.Overflow(f)
	}
	if d.overflowLog.Allow() {
		d.logger.Warn("reply values clamped",
			zap.Stringer("cmd", kind), zap.Strings("fields", fields), zap.Error(err))
	}
}

// overflowFields lists the fields named by the overflow errors in err
func overflowFields(err error) []string {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	var fields []string
	for _, e := range errs {
		var oe *vesc.OverflowError
		if errors.As(e, &oe) {
			fields = append(fields, oe.Field)
		}
	}
	return fields
}
