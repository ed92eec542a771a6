// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ticker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "pgqueue_ticker"

	tickLoop  = "tick"
	maintLoop = "maintenance"
)

// Metrics is a prometheus collector for the ticker.
type Metrics struct {
	ticks      prometheus.Counter
	maintOps   prometheus.Counter
	vacuums    prometheus.Counter
	errorCount *prometheus.CounterVec
}

// NewMetrics returns a new Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "The number of ticks created.",
		}),
		maintOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "maintenance_operations_total",
			Help:      "The number of maintenance steps run.",
		}),
		vacuums: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "vacuums_total",
			Help:      "The number of tables vacuumed.",
		}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "The number of failed rounds, per loop.",
		}, []string{"loop"}),
	}
}

func (m *Metrics) ticked(n int64) {
	m.ticks.Add(float64(n))
}

func (m *Metrics) maintained() {
	m.maintOps.Inc()
}

func (m *Metrics) vacuumed() {
	m.vacuums.Inc()
}

func (m *Metrics) failed(loop string) {
	m.errorCount.WithLabelValues(loop).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ticks.Describe(ch)
	m.maintOps.Describe(ch)
	m.vacuums.Describe(ch)
	m.errorCount.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ticks.Collect(ch)
	m.maintOps.Collect(ch)
	m.vacuums.Collect(ch)
	m.errorCount.Collect(ch)
}
