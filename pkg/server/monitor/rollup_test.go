package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
)

func TestRollupMonitor_Record(t *testing.T) {
	m := &RollupMonitor{}
	m.Record([]rollup.Result{
		{Tier: "1min", Rows: []rawlog.Record{{}, {}}},
		{Tier: "5min", Rows: []rawlog.Record{{}}},
		{Tier: "30min", Throttled: true},
	}, nil)

	status := m.Status()
	assert.True(t, status.Healthy)
	assert.Equal(t, 3, status.LastRows)
	assert.Equal(t, int64(3), status.TotalRows)
	assert.Zero(t, status.ConsecutiveErrors)
	assert.Empty(t, status.LastError)

	m.Record(nil, errors.New("disk full"))
	status = m.Status()
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "disk full", status.LastError)
	assert.True(t, status.Healthy, "a single failure is tolerated")
}

func TestRollupMonitor_IsHealthy(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(*RollupMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*RollupMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(m *RollupMonitor) {
				m.RecordSuccess(1)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(m *RollupMonitor) {
				m.RecordSuccess(1)
				m.Now = func() time.Time { return now.Add(DefaultStaleAfter + time.Second) }
			},
			expected: false,
		},
		{
			name: "custom stale window",
			setup: func(m *RollupMonitor) {
				m.StaleAfter = time.Hour
				m.RecordSuccess(1)
				m.Now = func() time.Time { return now.Add(30 * time.Minute) }
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(m *RollupMonitor) {
				m.RecordSuccess(1)
				for i := 0; i < 4; i++ {
					m.RecordFailure(errors.New("boom"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &RollupMonitor{Now: func() time.Time { return now }}
			tt.setup(m)
			assert.Equal(t, tt.expected, m.IsHealthy())
			assert.Equal(t, tt.expected, m.Status().Healthy)
		})
	}
}
