// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package state holds the simulated controller's telemetry behind a single
// lock. Readers always see both records at one consistent point in time.
package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// State is the shared telemetry handle
type State struct {
	mu     sync.Mutex
	values vesc.TelemetrySnapshot
	float  vesc.CustomAppPollResponse
}

// New creates a State with registry defaults applied
func New() *State {
	s := &State{
		values: vesc.NewTelemetrySnapshot(),
		float:  vesc.NewCustomAppPollResponse(),
	}
	for _, f := range registry {
		if f.Default != 0 {
			s.setLocked(f, f.Default)
		}
	}
	return s
}

// Values returns a copy of the telemetry snapshot
func (s *State) Values() vesc.TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

// FloatPoll returns a copy of the float poll record
func (s *State) FloatPoll() vesc.CustomAppPollResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.float
}

// Snapshot returns copies of both records taken under one lock
func (s *State) Snapshot() (vesc.TelemetrySnapshot, vesc.CustomAppPollResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values, s.float
}

// Update runs fn with exclusive access to both records
func (s *State) Update(fn func(v *vesc.TelemetrySnapshot, f *vesc.CustomAppPollResponse)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.values, &s.float)
}

// UpdateValues runs fn with exclusive access to the telemetry snapshot
func (s *State) UpdateValues(fn func(v *vesc.TelemetrySnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.values)
}

// UpdateFloatPoll runs fn with exclusive access to the float poll record
func (s *State) UpdateFloatPoll(fn func(f *vesc.CustomAppPollResponse)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.float)
}

// EncodeValues serializes the telemetry snapshot under the lock
func (s *State) EncodeValues() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Encode()
}

// EncodeFloatPoll serializes the float poll record under the lock
func (s *State) EncodeFloatPoll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.float.Encode()
}

// Get returns any wire field by name. Float poll fields take FloatPrefix.
func (s *State) Get(name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rest, ok := strings.CutPrefix(name, FloatPrefix); ok {
		return s.float.Get(rest)
	}
	return s.values.Get(name)
}

// Set assigns an adjustable field, clamped to its range
func (s *State) Set(name string, v float64) error {
	f, ok := LookupField(name)
	if !ok {
		return fmt.Errorf("%w: %s", vesc.ErrUnknownField, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(f, v)
}

// SetMany applies all updates under one lock. Nothing is applied if any
// name is unknown.
func (s *State) SetMany(updates map[string]float64) error {
	fields := make([]Field, 0, len(updates))
	for name := range updates {
		f, ok := LookupField(name)
		if !ok {
			return fmt.Errorf("%w: %s", vesc.ErrUnknownField, name)
		}
		fields = append(fields, f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		if err := s.setLocked(f, updates[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) setLocked(f Field, v float64) error {
	v = f.Clamp(v)
	if rest, ok := strings.CutPrefix(f.Name, FloatPrefix); ok {
		return s.float.Set(rest, v)
	}
	return s.values.Set(f.Name, v)
}

// Map flattens both records into name/value pairs using the names Get
// accepts
func (s *State) Map() map[string]float64 {
	v, f := s.Snapshot()
	out := make(map[string]float64, 32)
	for _, field := range vesc.TelemetrySnapshotSchema() {
		out[field.Name], _ = v.Get(field.Name)
	}
	out["fault"] = float64(v.Fault)
	for _, field := range vesc.CustomAppPollSchema() {
		out[FloatPrefix+field.Name], _ = f.Get(field.Name)
	}
	return out
}
