// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// pipeOpener hands out server ends of net.Pipe pairs pushed by the test
type pipeOpener struct {
	conns chan net.Conn
	opens atomic.Int32
}

func newPipeOpener() *pipeOpener {
	return &pipeOpener{conns: make(chan net.Conn)}
}

func (p *pipeOpener) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	p.opens.Add(1)
	select {
	case c := <-p.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect pushes a new pipe to the runner and returns the host end
func (p *pipeOpener) connect(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	select {
	case p.conns <- server:
	case <-time.After(2 * time.Second):
		t.Fatal("runner never asked for a connection")
	}
	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	return client
}

func startRunner(t *testing.T, r *Runner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitRunner(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

// request writes one framed request and reads a reply of replyLen payload bytes
func request(t *testing.T, c net.Conn, payload []byte, replyLen int) []byte {
	t.Helper()
	_, err := c.Write(vesc.MustEncodeFrame(payload))
	require.NoError(t, err)
	return readReply(t, c, replyLen)
}

func readReply(t *testing.T, c net.Conn, replyLen int) []byte {
	t.Helper()
	frame := make([]byte, replyLen+vesc.FrameOverhead)
	_, err := io.ReadFull(c, frame)
	require.NoError(t, err)
	payload, err := vesc.DecodeFrame(frame)
	require.NoError(t, err)
	return payload
}

func newTestRunner(t *testing.T, op Opener) *Runner {
	return &Runner{
		Opener:     op,
		Dispatcher: NewDispatcher(newTestState(t), nil, nil, nil),
		Backoff:    Backoff{Initial: 20 * time.Millisecond, Multiplier: 1, Max: 20 * time.Millisecond},
		Stats:      NewStatistics(),
	}
}

func TestRunner_ServesRequests(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	cancel, errCh := startRunner(t, r)

	c := op.connect(t)
	payload := request(t, c, vesc.GetValuesRequest, vesc.TelemetrySnapshotSize)
	values, err := vesc.DecodeTelemetrySnapshot(payload)
	require.NoError(t, err)
	assert.Equal(t, 500.0, values.RPM)
	assert.Equal(t, 0.625, values.DutyCycleNow)

	payload = request(t, c, vesc.FloatPollRequest, vesc.FloatPollSize)
	assert.Equal(t, byte(vesc.CommCustomAppData), payload[0])

	stats := r.Stats.Snapshot()
	assert.True(t, stats.Connected)
	assert.NotEmpty(t, stats.SessionID)
	assert.Equal(t, uint64(2), stats.ValidFrames)
	assert.Equal(t, uint64(1), stats.RepliesByCmd["GET_VALUES"])

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_ReconnectsAfterDisconnect(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	cancel, errCh := startRunner(t, r)

	first := op.connect(t)
	request(t, first, vesc.GetValuesRequest, vesc.TelemetrySnapshotSize)
	firstID := r.Stats.Snapshot().SessionID
	require.NoError(t, first.Close())

	start := time.Now()
	second := op.connect(t)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond, "reconnect should wait for backoff")

	payload := request(t, second, vesc.GetValuesRequest, vesc.TelemetrySnapshotSize)
	assert.Len(t, payload, vesc.TelemetrySnapshotSize)

	stats := r.Stats.Snapshot()
	assert.GreaterOrEqual(t, stats.Reconnects, uint64(1))
	assert.NotEqual(t, firstID, stats.SessionID)
	assert.Equal(t, int32(2), op.opens.Load())

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_FrameErrorsKeepSession(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	cancel, errCh := startRunner(t, r)
	c := op.connect(t)

	bad, err := vesc.EncodeFrameWithCRC(vesc.GetValuesRequest, 0xdead)
	require.NoError(t, err)
	malformed := []byte{0x02, 0x01, 0x04, 0x40, 0x84, 0x7F}
	noise := []byte{0xFF, 0x00, 0x11}

	stream := append(append(append([]byte{}, noise...), bad...), malformed...)
	stream = append(stream, vesc.MustEncodeFrame(vesc.GetValuesRequest)...)
	_, err = c.Write(stream)
	require.NoError(t, err)
	readReply(t, c, vesc.TelemetrySnapshotSize)

	stats := r.Stats.Snapshot()
	assert.Equal(t, uint64(1), stats.CRCErrors)
	assert.Equal(t, uint64(1), stats.MalformedFrames)
	assert.Equal(t, uint64(1), stats.ValidFrames)
	assert.Equal(t, uint64(3), stats.BytesSkipped)
	assert.True(t, stats.Connected)

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_UnknownCommandNoReply(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	cancel, errCh := startRunner(t, r)
	c := op.connect(t)

	stream := append(vesc.MustEncodeFrame([]byte{0x99, 0x01}), vesc.MustEncodeFrame([]byte{0x24, 0x65, 0x1c})...)
	stream = append(stream, vesc.MustEncodeFrame(vesc.FloatPollRequest)...)
	_, err := c.Write(stream)
	require.NoError(t, err)

	// Only the poll is answered
	readReply(t, c, vesc.FloatPollSize)

	stats := r.Stats.Snapshot()
	assert.Equal(t, uint64(1), stats.UnknownCommands)
	assert.Equal(t, uint64(1), stats.Replies)

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_BackToBackRequests(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	cancel, errCh := startRunner(t, r)
	c := op.connect(t)

	stream := append(vesc.MustEncodeFrame(vesc.GetValuesRequest), vesc.MustEncodeFrame(vesc.FloatPollRequest)...)
	_, err := c.Write(stream)
	require.NoError(t, err)

	first := readReply(t, c, vesc.TelemetrySnapshotSize)
	second := readReply(t, c, vesc.FloatPollSize)
	assert.Equal(t, byte(vesc.CommGetValues), first[0])
	assert.Equal(t, byte(vesc.CommCustomAppData), second[0])

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_RetriesExhausted(t *testing.T) {
	var opens atomic.Int32
	op := OpenerFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		opens.Add(1)
		return nil, errors.New("no such port")
	})
	r := newTestRunner(t, op)
	r.Backoff = Backoff{Initial: time.Millisecond, Multiplier: 2, Max: 4 * time.Millisecond, MaxRetries: 3}

	_, errCh := startRunner(t, r)
	err := waitRunner(t, errCh)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(4), opens.Load())
}

func TestRunner_CancelDuringBackoff(t *testing.T) {
	op := OpenerFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("unplugged")
	})
	r := newTestRunner(t, op)
	r.Backoff = Backoff{Initial: time.Hour}

	cancel, errCh := startRunner(t, r)
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.NoError(t, waitRunner(t, errCh))
}

func TestRunner_Events(t *testing.T) {
	op := newPipeOpener()
	r := newTestRunner(t, op)
	events := make(chan Event, 16)
	r.Events = events
	cancel, errCh := startRunner(t, r)

	c := op.connect(t)
	request(t, c, vesc.GetValuesRequest, vesc.TelemetrySnapshotSize)

	ev := <-events
	assert.Equal(t, EventConnected, ev.Kind)
	ev = <-events
	assert.Equal(t, EventRequest, ev.Kind)
	assert.Equal(t, vesc.CommandGetValues, ev.Command)
	assert.True(t, ev.Replied)

	cancel()
	assert.NoError(t, waitRunner(t, errCh))
	ev = <-events
	assert.Equal(t, EventDisconnected, ev.Kind)
}

func TestBackoff_Next(t *testing.T) {
	b := DefaultBackoff()
	d := b.Initial
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		seen = append(seen, d)
		d = b.Next(d)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)

	fixed := Backoff{Initial: time.Second, Multiplier: 1}
	assert.Equal(t, time.Second, fixed.Next(time.Second))
}

func TestStatistics_String(t *testing.T) {
	s := NewStatistics()
	s.RecordFrame(nil)
	s.RecordFrame(&vesc.FrameError{Kind: vesc.FrameCRCMismatch})
	s.RecordCommand(vesc.CommandGetValues, true)

	out := s.Snapshot().String()
	assert.Contains(t, out, "Total Frames:           2")
	assert.Contains(t, out, "CRC Errors:")
	assert.Contains(t, out, "GET_VALUES:")

	s.Reset()
	assert.Zero(t, s.Snapshot().TotalFrames)
}
