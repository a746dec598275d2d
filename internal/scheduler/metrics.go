package scheduler

import "sync"

// Metrics holds queue counters exposed by the status server.
type Metrics struct {
	mu            sync.Mutex
	admissions    int64
	completions   int64
	failures      int64
	preemptions   int64
	yields        int64
	apiRequests   int64
	apiRateLimits int64
	notifications int64
}

// NewMetrics creates zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Admitted increments the admissions counter.
func (m *Metrics) Admitted() { m.add(&m.admissions) }

// Completed increments the completions counter.
func (m *Metrics) Completed() { m.add(&m.completions) }

// Failed increments the failures counter.
func (m *Metrics) Failed() { m.add(&m.failures) }

// Preempted increments the preemptions counter.
func (m *Metrics) Preempted() { m.add(&m.preemptions) }

// Yielded increments the cooperative-yield counter.
func (m *Metrics) Yielded() { m.add(&m.yields) }

// APIRequest counts one outbound game-API call.
func (m *Metrics) APIRequest() { m.add(&m.apiRequests) }

// APIRateLimited counts one rate-limited game-API response.
func (m *Metrics) APIRateLimited() { m.add(&m.apiRateLimits) }

// NotificationSent counts one delivered change-notification message.
func (m *Metrics) NotificationSent() { m.add(&m.notifications) }

func (m *Metrics) add(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Admissions    int64
	Completions   int64
	Failures      int64
	Preemptions   int64
	Yields        int64
	APIRequests   int64
	APIRateLimits int64
	Notifications int64
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Admissions:    m.admissions,
		Completions:   m.completions,
		Failures:      m.failures,
		Preemptions:   m.preemptions,
		Yields:        m.yields,
		APIRequests:   m.apiRequests,
		APIRateLimits: m.apiRateLimits,
		Notifications: m.notifications,
	}
}
