// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, time.Second, cfg.Session.ReconnectInitial)
	assert.Equal(t, 30*time.Second, cfg.Session.ReconnectMax)
	assert.Equal(t, 2.0, cfg.Session.ReconnectMultiplier)
	assert.False(t, cfg.Fault.Enabled)
	assert.Equal(t, 0.1, cfg.Fault.BadCRCProbability)
	assert.Equal(t, uint16(0xdead), cfg.Fault.BadCRC)
	assert.Equal(t, 10*time.Millisecond, cfg.Tick.Interval)
	assert.True(t, cfg.TUI)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	data := []byte(`
serial:
  port: /dev/ttyUSB3
  baud: 57600
fault:
  enabled: true
  badCRCProbability: 0.5
  seed: 42
tick:
  sweep: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.True(t, cfg.Fault.Enabled)
	assert.Equal(t, 0.5, cfg.Fault.BadCRCProbability)
	assert.Equal(t, int64(42), cfg.Fault.Seed)
	assert.True(t, cfg.Tick.Sweep)
	// Untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Session.ReconnectMax)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VESCSIM_SERIAL_BAUD", "9600")
	t.Setenv("VESCSIM_FAULT_ENABLED", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.True(t, cfg.Fault.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	bad := *cfg
	bad.Fault.BadCRCProbability = 1.5
	bad.Session.ReconnectMultiplier = 0.5
	bad.Serial.Baud = 0

	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fault.badCRCProbability")
	assert.Contains(t, err.Error(), "session.reconnectMultiplier")
	assert.Contains(t, err.Error(), "serial.baud")
}
