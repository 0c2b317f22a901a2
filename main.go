// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// vescsim - VESC motor controller endpoint simulator
//
// Serves framed telemetry replies over a serial port or websocket bridge
// so host software can be tested without real hardware.

package main

import (
	"os"

	"github.com/Thermoquad/vescsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
