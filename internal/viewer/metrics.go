// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package viewer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mediabroker_viewer"

// Collector is a prometheus.Collector that collects metrics about viewer
// sessions.
type Collector struct {
	sessions prometheus.Gauge
	messages *prometheus.CounterVec
	applied  prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions",
				Help:      "The number of connected viewers.",
			},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "The number of messages received from viewers.",
			}, []string{"type"},
		),
		applied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "applied_total",
				Help:      "The number of results sent to viewers.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.sessions.Describe(ch)
	c.messages.Describe(ch)
	c.applied.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Collect(ch)
	c.messages.Collect(ch)
	c.applied.Collect(ch)
}
