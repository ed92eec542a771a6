// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pgqueue_consumer"

// StatsSnapshot holds the counters accumulated since the previous flush.
type StatsSnapshot struct {
	Batches  int64
	Skipped  int64
	Events   int64
	Retries  int64
	Failures int64

	// Lag is the age of the last applied tick when it was applied.
	Lag time.Duration
	// Duration is the total time spent applying batches.
	Duration time.Duration
}

// String formats the snapshot for the periodic stats log line.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf("batches=%s skipped=%d events=%s retries=%d failures=%d lag=%s duration=%s",
		humanize.Comma(s.Batches), s.Skipped, humanize.Comma(s.Events),
		s.Retries, s.Failures, s.Lag.Round(time.Millisecond), s.Duration.Round(time.Millisecond),
	)
}

// Stats accumulates consumer counters. The interval counters are reset by
// Flush; the exported metrics are totals.
type Stats struct {
	mu      sync.Mutex
	current StatsSnapshot

	batches  prometheus.Counter
	events   prometheus.Counter
	retries  prometheus.Counter
	failures prometheus.Counter
	lag      prometheus.Gauge
	duration prometheus.Histogram
}

// NewStats returns an empty Stats for the named consumer.
func NewStats(consumer string) *Stats {
	labels := prometheus.Labels{"consumer": consumer}
	return &Stats{
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "batches_total",
			Help:        "The number of batches applied.",
			ConstLabels: labels,
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "events_total",
			Help:        "The number of events processed.",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "retries_total",
			Help:        "The number of events put into the retry queue.",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "failures_total",
			Help:        "The number of failed batch attempts.",
			ConstLabels: labels,
		}),
		lag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "lag_seconds",
			Help:        "The age of the last applied tick.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "batch_duration_seconds",
			Help:        "The time taken to apply a batch.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
			ConstLabels: labels,
		}),
	}
}

// BatchDone records an applied batch.
func (s *Stats) BatchDone(events, retries int, lag, took time.Duration) {
	s.mu.Lock()
	s.current.Batches++
	s.current.Events += int64(events)
	s.current.Retries += int64(retries)
	s.current.Lag = lag
	s.current.Duration += took
	s.mu.Unlock()

	s.batches.Inc()
	s.events.Add(float64(events))
	s.retries.Add(float64(retries))
	s.lag.Set(lag.Seconds())
	s.duration.Observe(took.Seconds())
}

// BatchSkipped records a batch that had been applied before.
func (s *Stats) BatchSkipped() {
	s.mu.Lock()
	s.current.Skipped++
	s.mu.Unlock()
}

// BatchFailed records a failed batch attempt.
func (s *Stats) BatchFailed() {
	s.mu.Lock()
	s.current.Failures++
	s.mu.Unlock()
	s.failures.Inc()
}

// Flush returns the counters since the previous flush and resets them. The
// last seen lag is kept.
func (s *Stats) Flush() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	s.current = StatsSnapshot{Lag: snap.Lag}
	return snap
}

// Describe is part of the prometheus.Collector interface.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	s.batches.Describe(ch)
	s.events.Describe(ch)
	s.retries.Describe(ch)
	s.failures.Describe(ch)
	s.lag.Describe(ch)
	s.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	s.batches.Collect(ch)
	s.events.Collect(ch)
	s.retries.Collect(ch)
	s.failures.Collect(ch)
	s.lag.Collect(ch)
	s.duration.Collect(ch)
}
