// Package metrics exposes dispatcher throughput and saturation to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adworker"

// Collector holds the dispatcher metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	submitted prometheus.Counter
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
	pending   prometheus.Gauge
	running   prometheus.Gauge
}

// NewCollector registers the dispatcher metrics on reg. A nil reg gets a
// private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to the dispatcher",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed, by outcome status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Worker invocation wall time in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Tasks waiting for a worker slot",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Worker invocations currently running",
		}),
	}

	reg.MustRegister(c.submitted, c.completed, c.duration, c.pending, c.running)
	return c
}

// RecordSubmitted counts an accepted task.
func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.submitted.Inc()
}

// RecordCompleted counts a finished task and observes its duration.
func (c *Collector) RecordCompleted(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.completed.WithLabelValues(status).Inc()
	c.duration.Observe(d.Seconds())
}

// UpdateQueueStats sets the pending and running gauges.
func (c *Collector) UpdateQueueStats(pending, running int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(pending))
	c.running.Set(float64(running))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
