// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mirror publishes telemetry snapshots to an MQTT broker
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/vescsim/internal/config"
	"github.com/Thermoquad/vescsim/internal/metrics"
	"github.com/Thermoquad/vescsim/internal/state"
)

// Publisher sends one message to a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Telemetry is the published document
type Telemetry struct {
	Timestamp time.Time          `json:"timestamp"`
	State     map[string]float64 `json:"state"`
}

// Mirror periodically publishes the state
type Mirror struct {
	State     *state.State
	Publisher Publisher
	Topic     string
	Interval  time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// limiter caps the publish rate; errLog spaces out failure logs
	limiter *rate.Limiter
	errLog  *rate.Limiter
}

// New creates a mirror publishing through pub
func New(cfg config.MQTTConfig, st *state.State, pub Publisher, logger *zap.Logger, m *metrics.Metrics) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Mirror{
		State:     st,
		Publisher: pub,
		Topic:     cfg.Topic,
		Interval:  interval,
		Logger:    logger,
		Metrics:   m,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		errLog:    rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Run publishes every Interval until ctx is done
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if m.limiter.Allow() {
				m.PublishOnce(now)
			}
		}
	}
}

// PublishOnce publishes the current state stamped with ts
func (m *Mirror) PublishOnce(ts time.Time) {
	data, err := json.Marshal(Telemetry{Timestamp: ts, State: m.State.Map()})
	if err != nil {
		m.Logger.Error("marshal telemetry", zap.Error(err))
		return
	}

	if err := m.Publisher.Publish(m.Topic, data); err != nil {
		m.Metrics.MQTTPublish(false)
		if m.errLog.Allow() {
			m.Logger.Warn("mqtt publish failed", zap.String("topic", m.Topic), zap.Error(err))
		}
		return
	}
	m.Metrics.MQTTPublish(true)
}

// PahoPublisher publishes through a paho client
type PahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewPahoPublisher creates an auto-reconnecting client for cfg.Broker. The
// connection is established in the background.
func NewPahoPublisher(cfg config.MQTTConfig, logger *zap.Logger) *PahoPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	p := &PahoPublisher{client: mqtt.NewClient(opts), timeout: 5 * time.Second}
	p.client.Connect()
	return p
}

// Publish sends payload at QoS 0
func (p *PahoPublisher) Publish(topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker
func (p *PahoPublisher) Close() {
	p.client.Disconnect(250)
}
