// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Login flow metrics
	IncLoginSuccess()
	IncLoginFailure(reason string) // reason: "provider", "state", "reconcile"
	IncUserCreated()
	ObserveReconcileDuration(duration time.Duration)

	// CSRF guard metrics
	IncCSRFRejected()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
