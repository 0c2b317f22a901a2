// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/vescsim/internal/config"
)

var (
	configPath string

	// v collects defaults, the config file, VESCSIM_* variables and flags
	v = config.New()
	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vescsim",
	Short: "VESC motor controller endpoint simulator",
	Long: `vescsim - Emulates the serial telemetry endpoint of a VESC motor controller.

Answers COMM_GET_VALUES and float package poll requests from host software
with operator-controlled values, optionally corrupting replies to exercise
the host's error handling. Reconnects automatically when the transport drops.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the VESCSIM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Every setting can also come from a YAML file (--config) or a VESCSIM_*
environment variable, e.g. VESCSIM_FAULT_ENABLED=true.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ./vescsim.yaml if present)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	mustBind(v, "logging.level", "log-level")
	mustBind(v, "serial.port", "port")
	mustBind(v, "serial.baud", "baud")
	mustBind(v, "bridge.url", "url")
	mustBind(v, "bridge.username", "username")
	mustBind(v, "bridge.noSSLVerify", "no-ssl-verify")
}

// mustBind binds a persistent flag to a config key
func mustBind(v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// runFlagKeys maps run flags to config keys. They are bound at load time
// because the root and run commands each own a copy.
var runFlagKeys = map[string]string{
	"fault":   "fault.enabled",
	"sweep":   "tick.sweep",
	"tui":     "tui",
	"control": "control.enabled",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	for flag, key := range runFlagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}
	loaded, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
