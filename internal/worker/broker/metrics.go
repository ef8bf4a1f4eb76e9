// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mediabroker_broker"

// Collector is a prometheus.Collector that collects metrics about the
// broker.
type Collector struct {
	resources      prometheus.Gauge
	contexts       prometheus.Gauge
	commands       *prometheus.CounterVec
	droppedCmds    *prometheus.CounterVec
	results        *prometheus.CounterVec
	workerAlive    prometheus.Gauge
	workerQueueLen prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		resources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "resources",
				Help:      "The number of resources with at least one interested context.",
			},
		),
		contexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "contexts",
				Help:      "The number of contexts waiting on at least one resource.",
			},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_sent_total",
				Help:      "The number of commands handed to the worker channel.",
			}, []string{"command"},
		),
		droppedCmds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_dropped_total",
				Help:      "The number of commands dropped because the worker channel was unavailable.",
			}, []string{"command"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "results_total",
				Help:      "The number of results received from the worker.",
			}, []string{"outcome"},
		),
		workerAlive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_alive",
				Help:      "Whether the last status reported by the worker was alive.",
			},
		),
		workerQueueLen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_queue_depth",
				Help:      "The queue depth reported by the worker.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.resources.Describe(ch)
	c.contexts.Describe(ch)
	c.commands.Describe(ch)
	c.droppedCmds.Describe(ch)
	c.results.Describe(ch)
	c.workerAlive.Describe(ch)
	c.workerQueueLen.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.resources.Collect(ch)
	c.contexts.Collect(ch)
	c.commands.Collect(ch)
	c.droppedCmds.Collect(ch)
	c.results.Collect(ch)
	c.workerAlive.Collect(ch)
	c.workerQueueLen.Collect(ch)
}
