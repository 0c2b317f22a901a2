// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/internal/state"
	"github.com/Thermoquad/vescsim/pkg/vesc"
)

func newTestState(t *testing.T) *state.State {
	t.Helper()
	st := state.New()
	require.NoError(t, st.SetMany(map[string]float64{"rpm": 500, "duty_cycle_now": 0.625}))
	return st
}

func TestDispatch_GetValuesDeterministic(t *testing.T) {
	d := NewDispatcher(newTestState(t), nil, zaptest.NewLogger(t), nil)

	request := []byte{0x02, 0x01, 0x04, 0x40, 0x84, 0x03}
	payload, err := vesc.DecodeFrame(request)
	require.NoError(t, err)

	expected := make([]byte, vesc.TelemetrySnapshotSize)
	expected[0] = 0x04
	copy(expected[21:], []byte{0x02, 0x71})             // duty 0.625
	copy(expected[23:], []byte{0x00, 0x00, 0x01, 0xF4}) // rpm 500
	copy(expected[27:], []byte{0x02, 0x58})             // 60.0 V
	expected[53] = 0x04
	expectedFrame := vesc.MustEncodeFrame(expected)

	first := d.Dispatch(payload)
	second := d.Dispatch(payload)

	assert.Equal(t, vesc.CommandGetValues, first.Command.Kind)
	assert.Equal(t, expectedFrame, first.Frame)
	assert.Equal(t, first.Frame, second.Frame)
	assert.False(t, first.Fault.Injected())
}

func TestDispatch_FloatPoll(t *testing.T) {
	st := newTestState(t)
	st.UpdateFloatPoll(func(f *vesc.CustomAppPollResponse) { f.RPM = 123.4 })
	d := NewDispatcher(st, nil, nil, nil)

	reply := d.Dispatch(vesc.FloatPollRequest)
	require.NotNil(t, reply.Frame)

	payload, err := vesc.DecodeFrame(reply.Frame)
	require.NoError(t, err)
	require.Len(t, payload, vesc.FloatPollSize)

	got, err := vesc.DecodeCustomAppPollResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, 123.4, got.RPM)
	assert.Equal(t, uint8(vesc.FloatCmdPoll), got.FloatCommand)
}

func TestDispatch_NoReply(t *testing.T) {
	d := NewDispatcher(newTestState(t), nil, zaptest.NewLogger(t), nil)

	tests := []struct {
		name    string
		payload []byte
		kind    vesc.CommandKind
	}{
		{"charging state", []byte{0x24, 0x65, 0x1c}, vesc.CommandFloatChargingState},
		{"lcm debug", []byte{0x24, 0x65, 0x63, 0x01}, vesc.CommandFloatLCMDebug},
		{"other custom app", []byte{0x24, 0x01}, vesc.CommandCustomApp},
		{"unknown", []byte{0x99}, vesc.CommandUnknown},
		{"empty", []byte{}, vesc.CommandUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := d.Dispatch(tt.payload)
			assert.Equal(t, tt.kind, reply.Command.Kind)
			assert.Nil(t, reply.Frame)
		})
	}
}

func TestDispatch_OverflowStillReplies(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Set("float.rpm", 8000))
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(st, nil, zaptest.NewLogger(t), m)

	reply := d.Dispatch(vesc.FloatPollRequest)
	require.NotNil(t, reply.Frame)

	payload, err := vesc.DecodeFrame(reply.Frame)
	require.NoError(t, err)
	got, err := vesc.DecodeCustomAppPollResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, 3276.7, got.RPM)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overflows.WithLabelValues("rpm")))
}

func TestDispatch_FaultInjection(t *testing.T) {
	faults := NewFaultInjector(FaultConfig{Enabled: true, BadCRCProbability: 1, BadCRC: DefaultBadCRC, Seed: 1})
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(newTestState(t), faults, nil, m)

	reply := d.Dispatch(vesc.GetValuesRequest)
	require.True(t, reply.Fault.BadCRC)

	_, err := vesc.DecodeFrame(reply.Frame)
	var fe *vesc.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, DefaultBadCRC, fe.Actual)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaultsInjected.WithLabelValues("bad_crc")))
}

func TestOverflowFields(t *testing.T) {
	err := errors.Join(
		&vesc.OverflowError{Field: "rpm"},
		fmt.Errorf("wrapped: %w", &vesc.OverflowError{Field: "inp_voltage"}),
		errors.New("other"),
	)
	assert.Equal(t, []string{"rpm", "inp_voltage"}, overflowFields(err))
	assert.Equal(t, []string{"duty"}, overflowFields(&vesc.OverflowError{Field: "duty"}))
}
