// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session serves the simulated controller over a reconnecting
// byte-stream transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// ErrRetriesExhausted is returned by Run when MaxRetries consecutive opens
// have failed
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// Opener opens a fresh transport connection
type Opener interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Open calls f(ctx)
func (f OpenerFunc) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// Backoff is the reconnect delay policy
type Backoff struct {
	Initial    time.Duration
	Multiplier float64 // 1 keeps the delay fixed
	Max        time.Duration
	MaxRetries int // 0 retries forever
}

// DefaultBackoff returns 1s doubling up to 30s, unlimited retries
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}
}

// Next returns the delay following d
func (b Backoff) Next(d time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(d) * mult)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// EventKind identifies a session event
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventOpenFailed
	EventRequest
	EventFrameError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventOpenFailed:
		return "open_failed"
	case EventRequest:
		return "request"
	case EventFrameError:
		return "frame_error"
	}
	return "unknown"
}

// Event is reported to observers such as the control panel
type Event struct {
	Time    time.Time
	Kind    EventKind
	Session string
	Command vesc.CommandKind
	Replied bool
	Fault   Fault
	Err     error
	// Delay is the wait before the next connection attempt
	Delay time.Duration
}

// Runner keeps a session alive across transport failures
type Runner struct {
	Opener     Opener
	Dispatcher *Dispatcher
	Backoff    Backoff

	ReadBufferSize int
	// FrameErrorLogInterval spaces out frame error log lines; counters
	// are always updated
	FrameErrorLogInterval time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Stats   *Statistics
	// Events receives non-blocking notifications; a full channel drops them
	Events chan<- Event
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) emit(ev Event) {
	if r.Events == nil {
		return
	}
	ev.Time = time.Now()
	select {
	case r.Events <- ev:
	default:
	}
}

// Run connects, serves and reconnects until ctx is done. It returns nil on
// a clean stop and ErrRetriesExhausted when the opener keeps failing.
func (r *Runner) Run(ctx context.Context) error {
	if r.Stats == nil {
		r.Stats = NewStatistics()
	}
	backoff := r.Backoff
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}

	delay := backoff.Initial
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := r.Opener.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if backoff.MaxRetries > 0 && failures > backoff.MaxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
			r.logger().Warn("open transport failed",
				zap.Error(err), zap.Int("attempt", failures), zap.Duration("retry_in", delay))
			r.emit(Event{Kind: EventOpenFailed, Err: err, Delay: delay})
			if !sleep(ctx, delay) {
				return nil
			}
			delay = backoff.Next(delay)
			r.Stats.RecordReconnect()
			r.Metrics.Reconnect()
			continue
		}

		failures = 0
		delay = backoff.Initial
		err = r.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}

		r.logger().Warn("session ended", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleep(ctx, delay) {
			return nil
		}
		delay = backoff.Next(delay)
		r.Stats.RecordReconnect()
		r.Metrics.Reconnect()
	}
}

// sleep waits for d, returning false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serve runs one connection until a transport error or ctx cancellation
func (r *Runner) serve(ctx context.Context, conn io.ReadWriteCloser) error {
	id := uuid.NewString()
	logger := r.logger().With(zap.String("session", id))

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	// A blocked Read only returns once the connection is closed
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	r.Stats.SetConnected(true, id)
	r.Metrics.SetConnected(true)
	r.emit(Event{Kind: EventConnected, Session: id})
	logger.Info("session started")

	var endErr error
	defer func() {
		r.Stats.SetConnected(false, "")
		r.Metrics.SetConnected(false)
		r.emit(Event{Kind: EventDisconnected, Session: id, Err: endErr})
	}()

	size := r.ReadBufferSize
	if size <= 0 {
		size = 1024
	}
	buf := make([]byte, size)
	decoder := vesc.NewDecoder()
	interval := r.FrameErrorLogInterval
	if interval <= 0 {
		interval = time.Second
	}
	errLog := rate.NewLimiter(rate.Every(interval), 1)
	var skipped uint64
	flushSkipped := func() {
		if s := decoder.Skipped(); s > skipped {
			r.Stats.AddSkipped(s - skipped)
			r.Metrics.Skipped(s - skipped)
			skipped = s
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, readErr := conn.Read(buf)
		for i := 0; i < n; i++ {
			payload, err := decoder.DecodeByte(buf[i])
			if err != nil {
				r.frameError(logger, errLog, id, err)
				continue
			}
			if payload == nil {
				continue
			}

			flushSkipped()
			r.Stats.RecordFrame(nil)
			r.Metrics.Frame("ok")
			reply := r.Dispatcher.Dispatch(payload)
			replied := reply.Frame != nil
			if replied {
				if _, err := conn.Write(reply.Frame); err != nil {
					endErr = fmt.Errorf("write: %w", err)
					return endErr
				}
				r.Metrics.Reply(reply.Command.Kind.String())
				if reply.Fault.Injected() {
					r.Stats.RecordFault()
				}
			}
			r.Stats.RecordCommand(reply.Command.Kind, replied)
			r.emit(Event{Kind: EventRequest, Session: id, Command: reply.Command.Kind, Replied: replied, Fault: reply.Fault})
		}

		flushSkipped()

		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			endErr = fmt.Errorf("read: %w", readErr)
			return endErr
		}
	}
}

func (r *Runner) frameError(logger *zap.Logger, limiter *rate.Limiter, id string, err error) {
	r.Stats.RecordFrame(err)
	var fe *vesc.FrameError
	if errors.As(err, &fe) {
		r.Metrics.Frame(fe.Kind.String())
	} else {
		r.Metrics.Frame("malformed")
	}
	r.emit(Event{Kind: EventFrameError, Session: id, Err: err})

	if !limiter.Allow() {
		return
	}
	if fe != nil && fe.Kind == vesc.FrameCRCMismatch {
		logger.Warn("frame dropped",
			zap.Error(err),
			zap.String("crc_expected", fmt.Sprintf("0x%04X", fe.Expected)),
			zap.String("crc_actual", fmt.Sprintf("0x%04X", fe.Actual)))
		return
	}
	logger.Warn("frame dropped", zap.Error(err))
}
