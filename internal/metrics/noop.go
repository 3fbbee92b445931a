package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncLoginSuccess is a no-op.
func (n *NoopRecorder) IncLoginSuccess() {}

// IncLoginFailure is a no-op.
func (n *NoopRecorder) IncLoginFailure(reason string) {}

// IncUserCreated is a no-op.
func (n *NoopRecorder) IncUserCreated() {}

// ObserveReconcileDuration is a no-op.
func (n *NoopRecorder) ObserveReconcileDuration(duration time.Duration) {}

// IncCSRFRejected is a no-op.
func (n *NoopRecorder) IncCSRFRejected() {}
