package firesync

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordDispatchDuration records how long a remote append took, failed or not
	RecordDispatchDuration(d time.Duration)

	// RecordChanges records change notifications received, by kind
	RecordChanges(kind string, n int)

	// RecordLocalDispatches records how many remote actions were dispatched locally
	RecordLocalDispatches(n int)

	// RecordErrors records failed operations
	RecordErrors(op, reason string)

	// RecordActiveSubscriptions adjusts the number of live subscriptions
	RecordActiveSubscriptions(delta int)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordDispatchDuration(d time.Duration) {}
func (*NoOpMetricsCollector) RecordChanges(kind string, n int)       {}
func (*NoOpMetricsCollector) RecordLocalDispatches(n int)            {}
func (*NoOpMetricsCollector) RecordErrors(op, reason string)         {}
func (*NoOpMetricsCollector) RecordActiveSubscriptions(delta int)    {}
