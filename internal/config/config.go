// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads simulator configuration from defaults, an optional
// YAML file, VESCSIM_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// VESCSIM_SERIAL_PORT for serial.port
const EnvPrefix = "VESCSIM"

// SerialConfig selects the local serial device
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// BridgeConfig selects a websocket serial bridge instead of a local port
type BridgeConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
}

// SessionConfig controls reconnect backoff and the read loop
type SessionConfig struct {
	ReconnectInitial    time.Duration `mapstructure:"reconnectInitial"`
	ReconnectMultiplier float64       `mapstructure:"reconnectMultiplier"`
	ReconnectMax        time.Duration `mapstructure:"reconnectMax"`
	MaxRetries          int           `mapstructure:"maxRetries"`
	ReadBufferSize      int           `mapstructure:"readBufferSize"`
	// FrameErrorLogInterval is the minimum spacing of frame error log lines
	FrameErrorLogInterval time.Duration `mapstructure:"frameErrorLogInterval"`
}

// FaultConfig controls reply corruption
type FaultConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	BadCRCProbability  float64 `mapstructure:"badCRCProbability"`
	BadCRC             uint16  `mapstructure:"badCRC"`
	RandomCRC          bool    `mapstructure:"randomCRC"`
	GarbageProbability float64 `mapstructure:"garbageProbability"`
	MaxGarbage         int     `mapstructure:"maxGarbage"`
	Seed               int64   `mapstructure:"seed"`
}

// TickConfig controls the periodic state driver
type TickConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Mirror      bool          `mapstructure:"mirror"`
	Sweep       bool          `mapstructure:"sweep"`
	SweepRPM    float64       `mapstructure:"sweepRPM"`
	SweepPeriod time.Duration `mapstructure:"sweepPeriod"`
}

// ControlConfig controls the HTTP/websocket control surface
type ControlConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	PushInterval time.Duration `mapstructure:"pushInterval"`
}

// MQTTConfig controls the telemetry mirror. An empty broker disables it.
type MQTTConfig struct {
	Broker   string        `mapstructure:"broker"`
	Topic    string        `mapstructure:"topic"`
	ClientID string        `mapstructure:"clientID"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Interval time.Duration `mapstructure:"interval"`
}

// LumberjackConfig configures the rotating log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig selects level, encoding and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// Config is the top-level configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Session SessionConfig `mapstructure:"session"`
	Fault   FaultConfig   `mapstructure:"fault"`
	Tick    TickConfig    `mapstructure:"tick"`
	Control ControlConfig `mapstructure:"control"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
	TUI     bool          `mapstructure:"tui"`
}

// New returns a viper instance with defaults and environment overrides
// installed. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and unmarshals the result.
// With an empty path, vescsim.yaml is looked up in the working directory
// and ./configs; a missing file there is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("vescsim")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that would otherwise fail at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Session.ReconnectInitial <= 0 {
		errs = append(errs, fmt.Errorf("session.reconnectInitial must be positive"))
	}
	if c.Session.ReconnectMultiplier < 1 {
		errs = append(errs, fmt.Errorf("session.reconnectMultiplier must be >= 1, got %g", c.Session.ReconnectMultiplier))
	}
	if c.Session.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.maxRetries must be >= 0"))
	}
	if c.Session.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("session.readBufferSize must be positive"))
	}
	for name, p := range map[string]float64{
		"fault.badCRCProbability":  c.Fault.BadCRCProbability,
		"fault.garbageProbability": c.Fault.GarbageProbability,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %g", name, p))
		}
	}
	if c.Fault.MaxGarbage < 0 {
		errs = append(errs, fmt.Errorf("fault.maxGarbage must be >= 0"))
	}
	if c.Tick.Interval <= 0 {
		errs = append(errs, fmt.Errorf("tick.interval must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.readTimeout", "100ms")

	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.username", "admin")
	v.SetDefault("bridge.noSSLVerify", false)

	v.SetDefault("session.reconnectInitial", "1s")
	v.SetDefault("session.reconnectMultiplier", 2.0)
	v.SetDefault("session.reconnectMax", "30s")
	v.SetDefault("session.maxRetries", 0)
	v.SetDefault("session.readBufferSize", 1024)
	v.SetDefault("session.frameErrorLogInterval", "1s")

	v.SetDefault("fault.enabled", false)
	v.SetDefault("fault.badCRCProbability", 0.1)
	v.SetDefault("fault.badCRC", 0xdead)
	v.SetDefault("fault.randomCRC", false)
	v.SetDefault("fault.garbageProbability", 0.0)
	v.SetDefault("fault.maxGarbage", 8)
	v.SetDefault("fault.seed", 0)

	v.SetDefault("tick.interval", "10ms")
	v.SetDefault("tick.mirror", true)
	v.SetDefault("tick.sweep", false)
	v.SetDefault("tick.sweepRPM", 3000.0)
	v.SetDefault("tick.sweepPeriod", "10s")

	v.SetDefault("control.enabled", false)
	v.SetDefault("control.addr", "127.0.0.1:8080")
	v.SetDefault("control.pushInterval", "250ms")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "vescsim/telemetry")
	v.SetDefault("mqtt.clientID", "vescsim")
	v.SetDefault("mqtt.interval", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("tui", true)
}
