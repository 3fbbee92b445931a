package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	LoginSuccesses           uint64
	LoginFailures            map[string]uint64
	UsersCreated             uint64
	ReconcileDurationCount   uint64
	ReconcileDurationTotalNs int64
	CSRFRejections           uint64
}

// InMemoryRecorder stores metrics in memory for tests and dev exposure.
type InMemoryRecorder struct {
	loginSuccesses           uint64
	usersCreated             uint64
	reconcileDurationCount   uint64
	reconcileDurationTotalNs int64
	csrfRejections           uint64

	mu            sync.Mutex
	loginFailures map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		loginFailures: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	failures := make(map[string]uint64, len(m.loginFailures))
	for k, v := range m.loginFailures {
		failures[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		LoginSuccesses:           atomic.LoadUint64(&m.loginSuccesses),
		LoginFailures:            failures,
		UsersCreated:             atomic.LoadUint64(&m.usersCreated),
		ReconcileDurationCount:   atomic.LoadUint64(&m.reconcileDurationCount),
		ReconcileDurationTotalNs: atomic.LoadInt64(&m.reconcileDurationTotalNs),
		CSRFRejections:           atomic.LoadUint64(&m.csrfRejections),
	}
}

// IncLoginSuccess increments the successful login counter.
func (m *InMemoryRecorder) IncLoginSuccess() {
	atomic.AddUint64(&m.loginSuccesses, 1)
}

// IncLoginFailure increments the failed login counter for a reason.
func (m *InMemoryRecorder) IncLoginFailure(reason string) {
	m.mu.Lock()
	m.loginFailures[reason]++
	m.mu.Unlock()
}

// IncUserCreated increments the first-login user creation counter.
func (m *InMemoryRecorder) IncUserCreated() {
	atomic.AddUint64(&m.usersCreated, 1)
}

// ObserveReconcileDuration records identity reconciliation duration.
func (m *InMemoryRecorder) ObserveReconcileDuration(duration time.Duration) {
	atomic.AddUint64(&m.reconcileDurationCount, 1)
	atomic.AddInt64(&m.reconcileDurationTotalNs, duration.Nanoseconds())
}

// IncCSRFRejected increments the antiforgery rejection counter.
func (m *InMemoryRecorder) IncCSRFRejected() {
	atomic.AddUint64(&m.csrfRejections, 1)
}
