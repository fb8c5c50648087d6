package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinywatch/pkg/rollup"
)

// DefaultStaleAfter marks the scheduler unhealthy when no run has succeeded
// for this long.
const DefaultStaleAfter = 10 * time.Minute

// RollupMonitor tracks scheduled rollup health and failures.
type RollupMonitor struct {
	// StaleAfter overrides DefaultStaleAfter.
	StaleAfter time.Duration

	// Now overrides time.Now.
	Now func() time.Time

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastRows          int
	totalRows         int64
}

func (m *RollupMonitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *RollupMonitor) staleAfter() time.Duration {
	if m.StaleAfter > 0 {
		return m.StaleAfter
	}
	return DefaultStaleAfter
}

// Record records the outcome of one scheduled pass.
func (m *RollupMonitor) Record(results []rollup.Result, err error) {
	if err != nil {
		m.RecordFailure(err)
		return
	}
	rows := 0
	for _, r := range results {
		rows += len(r.Rows)
	}
	m.RecordSuccess(rows)
}

// RecordSuccess records a successful pass that appended rows.
func (m *RollupMonitor) RecordSuccess(rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.lastError = ""
	m.lastRows = rows
	m.totalRows += int64(rows)
}

// RecordFailure records a failed pass.
func (m *RollupMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// ConsecutiveErrors is the number of failed passes since the last success.
func (m *RollupMonitor) ConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveErrors
}

// IsHealthy returns true if rollups are working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within StaleAfter
//   - More than 3 consecutive failures
func (m *RollupMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *RollupMonitor) healthyLocked() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.now().Sub(m.lastSuccess) > m.staleAfter() {
		return false
	}
	return m.consecutiveErrors <= 3
}

// RollupStatus is the scheduler state reported by health checks.
type RollupStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastRows          int    `json:"last_rows"`
	TotalRows         int64  `json:"total_rows"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current rollup status for health checks.
func (m *RollupMonitor) Status() RollupStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RollupStatus{
		Healthy:   m.healthyLocked(),
		LastRows:  m.lastRows,
		TotalRows: m.totalRows,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = m.now().Sub(m.lastSuccess).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
