// Package metrics exports adapter metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "firesync"

// Collector is a prometheus.Collector that records adapter activity. It
// satisfies firesync.MetricsCollector.
type Collector struct {
	dispatchDuration    prometheus.Histogram
	changes             *prometheus.CounterVec
	localDispatches     prometheus.Counter
	errors              *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_duration_seconds",
				Help:      "The time taken to append an action to the remote collection.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "changes_total",
				Help:      "The number of change notifications received.",
			}, []string{"kind"},
		),
		localDispatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "local_dispatches_total",
				Help:      "The number of remote actions dispatched to the local store.",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "The number of failed remote operations.",
			}, []string{"operation", "reason"},
		),
		activeSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_subscriptions",
				Help:      "The number of live collection subscriptions.",
			},
		),
	}
}

func (c *Collector) RecordDispatchDuration(d time.Duration) {
	c.dispatchDuration.Observe(d.Seconds())
}

func (c *Collector) RecordChanges(kind string, n int) {
	c.changes.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) RecordLocalDispatches(n int) {
	c.localDispatches.Add(float64(n))
}

func (c *Collector) RecordErrors(op, reason string) {
	c.errors.WithLabelValues(op, reason).Inc()
}

func (c *Collector) RecordActiveSubscriptions(delta int) {
	c.activeSubscriptions.Add(float64(delta))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.dispatchDuration.Describe(ch)
	c.changes.Describe(ch)
	c.localDispatches.Describe(ch)
	c.errors.Describe(ch)
	c.activeSubscriptions.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.dispatchDuration.Collect(ch)
	c.changes.Collect(ch)
	c.localDispatches.Collect(ch)
	c.errors.Collect(ch)
	c.activeSubscriptions.Collect(ch)
}
