// Package monitor tracks the health of background jobs for the health endpoint.
package monitor

import (
	"sync"
	"time"
)

const (
	// staleAfter is how long since the last successful tick before the
	// scorer is reported unhealthy.
	staleAfter = 5 * time.Minute

	maxConsecutiveErrors = 3
)

// TickMonitor tracks tick evaluation health and failures.
type TickMonitor struct {
	mu                sync.RWMutex
	now               func() time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastSkipped       time.Time
	lastTick          time.Time
	consecutiveErrors int
	lastError         string
}

// NewTickMonitor creates a monitor using the wall clock.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{now: time.Now}
}

// RecordSuccess records a tick that stored a metric.
func (m *TickMonitor) RecordSuccess(tick time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	m.lastSuccess = now
	m.lastAttempt = now
	m.lastTick = tick
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordSkip records a tick that completed without storing a metric, either
// because detection is disabled or history was insufficient. It counts as
// a healthy run.
func (m *TickMonitor) RecordSkip(tick time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	m.lastSuccess = now
	m.lastAttempt = now
	m.lastSkipped = tick
	m.lastTick = tick
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed tick.
func (m *TickMonitor) RecordFailure(tick time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.clock()
	m.lastTick = tick
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if ticks are being evaluated.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded in >5 minutes
//   - More than 3 consecutive failures
func (m *TickMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy()
}

func (m *TickMonitor) healthy() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.clock().Sub(m.lastSuccess) > staleAfter {
		return false
	}
	return m.consecutiveErrors <= maxConsecutiveErrors
}

func (m *TickMonitor) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// TickStatus is the tick loop state reported by the health endpoint.
type TickStatus struct {
	Healthy           bool   `json:"healthy"`
	LastTick          string `json:"last_tick,omitempty"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastSkipped       string `json:"last_skipped,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current tick status for health checks.
func (m *TickMonitor) Status() TickStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := TickStatus{
		Healthy: m.healthy(),
	}

	if !m.lastTick.IsZero() {
		status.LastTick = m.lastTick.UTC().Format(time.RFC3339)
	}
	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.UTC().Format(time.RFC3339)
		status.TimeSinceSuccess = m.clock().Sub(m.lastSuccess).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.UTC().Format(time.RFC3339)
	}
	if !m.lastSkipped.IsZero() {
		status.LastSkipped = m.lastSkipped.UTC().Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
