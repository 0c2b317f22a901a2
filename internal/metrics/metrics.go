// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics holds the prometheus registry and simulator metrics.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vescsim"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the simulator's own series
type Metrics struct {
	Frames         *prometheus.CounterVec // labels: result=ok|crc_mismatch|malformed
	Requests       *prometheus.CounterVec // labels: cmd
	Replies        *prometheus.CounterVec // labels: cmd
	BytesSkipped   prometheus.Counter
	Reconnects     prometheus.Counter
	Connected      prometheus.Gauge
	Overflows      *prometheus.CounterVec // labels: field
	FaultsInjected *prometheus.CounterVec // labels: kind=bad_crc|garbage
	MQTTPublishes  *prometheus.CounterVec // labels: result=ok|error
}

// New registers and returns the simulator metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Decoded inbound frames by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Valid inbound requests by command.",
		}, []string{"cmd"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies written by command.",
		}, []string{"cmd"}),
		BytesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_skipped_total",
			Help:      "Bytes discarded while searching for a start byte.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transport reconnect attempts.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a transport session is active.",
		}),
		Overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixed_point_overflow_total",
			Help:      "Field values clamped while encoding replies.",
		}, []string{"field"}),
		FaultsInjected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_injected_total",
			Help:      "Replies deliberately corrupted by kind.",
		}, []string{"kind"}),
		MQTTPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publish_total",
			Help:      "MQTT mirror publishes by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Frames, m.Requests, m.Replies, m.BytesSkipped, m.Reconnects,
		m.Connected, m.Overflows, m.FaultsInjected, m.MQTTPublishes)
	return m
}

// Frame counts one decoded frame outcome
func (m *Metrics) Frame(result string) {
	if m != nil {
		m.Frames.WithLabelValues(result).Inc()
	}
}

// Request counts one valid request
func (m *Metrics) Request(cmd string) {
	if m != nil {
		m.Requests.WithLabelValues(cmd).Inc()
	}
}

// Reply counts one written reply
func (m *Metrics) Reply(cmd string) {
	if m != nil {
		m.Replies.WithLabelValues(cmd).Inc()
	}
}

// Skipped adds discarded bytes
func (m *Metrics) Skipped(n uint64) {
	if m != nil && n > 0 {
		m.BytesSkipped.Add(float64(n))
	}
}

// Reconnect counts one reconnect attempt
func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

// SetConnected updates the connection gauge
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// Overflow counts one clamped field
func (m *Metrics) Overflow(field string) {
	if m != nil {
		m.Overflows.WithLabelValues(field).Inc()
	}
}

// FaultInjected counts one corrupted reply
func (m *Metrics) FaultInjected(kind string) {
	if m != nil {
		m.FaultsInjected.WithLabelValues(kind).Inc()
	}
}

// MQTTPublish counts one mirror publish
func (m *Metrics) MQTTPublish(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.MQTTPublishes.WithLabelValues("ok").Inc()
	} else {
		m.MQTTPublishes.WithLabelValues("error").Inc()
	}
}
