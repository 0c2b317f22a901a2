// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/vescsim/pkg/vesc"
)

// Statistics tracks frame counts and error rates across sessions.
// It is safe for concurrent use.
type Statistics struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the counters
type StatsSnapshot struct {
	StartTime     time.Time
	LastFrameTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	CRCErrors       uint64
	MalformedFrames uint64
	UnknownCommands uint64
	Replies         uint64
	RepliesByCmd    map[string]uint64
	FaultsInjected  uint64
	BytesSkipped    uint64
	Reconnects      uint64

	Connected bool
	SessionID string

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.Reset()
	return s
}

// RecordFrame counts one decoder outcome: a payload (err == nil) or a
// frame error
func (s *Statistics) RecordFrame(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TotalFrames++
	s.snap.LastFrameTime = time.Now()
	switch {
	case err == nil:
		s.snap.ValidFrames++
	case errors.Is(err, vesc.ErrCRCMismatch):
		s.snap.CRCErrors++
	default:
		s.snap.MalformedFrames++
	}
}

// RecordCommand counts a dispatched command and whether it was answered
func (s *Statistics) RecordCommand(kind vesc.CommandKind, replied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == vesc.CommandUnknown {
		s.snap.UnknownCommands++
	}
	if replied {
		s.snap.Replies++
		s.snap.RepliesByCmd[kind.String()]++
	}
}

// RecordFault counts one corrupted reply
func (s *Statistics) RecordFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.FaultsInjected++
}

// AddSkipped adds bytes discarded before a start byte
func (s *Statistics) AddSkipped(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.BytesSkipped += n
}

// RecordReconnect counts one reconnect attempt
func (s *Statistics) RecordReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Reconnects++
}

// SetConnected marks the active session, or none when up is false
func (s *Statistics) SetConnected(up bool, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connected = up
	if up {
		s.snap.SessionID = sessionID
	} else {
		s.snap.SessionID = ""
	}
}

// Snapshot returns a copy of the counters with rates filled in
func (s *Statistics) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.RepliesByCmd = maps.Clone(s.snap.RepliesByCmd)
	if elapsed := time.Since(out.StartTime).Seconds(); elapsed > 0 {
		out.FrameRate = float64(out.TotalFrames) / elapsed
		out.ErrorRate = float64(out.CRCErrors+out.MalformedFrames) / elapsed
	}
	return out
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	connected, id := s.snap.Connected, s.snap.SessionID
	s.snap = StatsSnapshot{
		StartTime:    time.Now(),
		RepliesByCmd: make(map[string]uint64),
		Connected:    connected,
		SessionID:    id,
	}
}

// String returns a formatted statistics summary
func (s StatsSnapshot) String() string {
	var validPercent, crcPercent, malformedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.TotalFrames)
	fmt.Fprintf(&b, "Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	if s.CRCErrors > 0 {
		fmt.Fprintf(&b, "CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcPercent)
	}
	if s.MalformedFrames > 0 {
		fmt.Fprintf(&b, "Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
	}
	if s.UnknownCommands > 0 {
		fmt.Fprintf(&b, "Unknown Cmds:    %8d\n", s.UnknownCommands)
	}
	fmt.Fprintf(&b, "Replies:         %8d\n", s.Replies)
	for _, name := range slices.Sorted(maps.Keys(s.RepliesByCmd)) {
		fmt.Fprintf(&b, "  %-20s %5d\n", name+":", s.RepliesByCmd[name])
	}
	if s.FaultsInjected > 0 {
		fmt.Fprintf(&b, "Faults Injected: %8d\n", s.FaultsInjected)
	}
	if s.BytesSkipped > 0 {
		fmt.Fprintf(&b, "Bytes Skipped:   %8d\n", s.BytesSkipped)
	}
	fmt.Fprintf(&b, "Reconnects:      %8d\n", s.Reconnects)
	fmt.Fprintf(&b, "Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}
