package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinywatch/pkg/rawlog"
)

func pingRecords() []rawlog.Record {
	return []rawlog.Record{
		{"timestamp": int64(100), "host": "a", "latency": 10.0, "success": true},
		{"timestamp": int64(110), "host": "b", "latency": 20.0, "success": true},
		{"timestamp": int64(120), "host": "a", "latency": 30.0, "success": true},
		{"timestamp": int64(130), "host": "b", "latency": 40.0, "success": true},
		{"timestamp": int64(140), "host": "a", "success": false},
	}
}

func TestPing(t *testing.T) {
	rows := Ping().Aggregate(pingRecords(), 60, 120)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, 5, row["sample_count"])
	assert.Equal(t, 4, row["success_count"])
	assert.Equal(t, 1, row["failure_count"])
	assert.Equal(t, 80.0, row["success_rate"])
	assert.Equal(t, 20.0, row["packet_loss"])
	assert.Equal(t, map[string]int{"a": 3, "b": 2}, row["hosts"])

	assert.Equal(t, 10.0, row["latency_min"])
	assert.Equal(t, 40.0, row["latency_max"])
	assert.Equal(t, 25.0, row["latency_avg"])
	assert.Equal(t, 40.0, row["latency_p95"])
	assert.Equal(t, 10.0, row["jitter_avg"])
	assert.Equal(t, 10.0, row["jitter_max"])

	assert.Equal(t, "good", row["latency_quality"])
	assert.Equal(t, "good", row["jitter_quality"])
	assert.Equal(t, "critical", row["packet_loss_quality"])
	assert.Equal(t, "critical", row["quality"], "overall is the worst rating")

	assert.Equal(t, int64(60), row["period_start"])
	assert.Equal(t, int64(180), row["period_end"])
	_, hasTS := row["timestamp"]
	assert.False(t, hasTS, "midpoint timestamp is left to the processor")
}

func TestPing_StatusField(t *testing.T) {
	rows := Ping().Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "latency": 5.0, "status": "success"},
		{"timestamp": int64(2), "latency": 5.0, "status": "success"},
		{"timestamp": int64(3), "status": "failure"},
		{"timestamp": int64(4), "status": "failure"},
	}, 0, 60)
	require.Len(t, rows, 1)

	assert.Equal(t, 2, rows[0]["success_count"])
	assert.Equal(t, 2, rows[0]["failure_count"])
	assert.Equal(t, 0.0, rows[0]["jitter_avg"])
}

func TestPing_AllFailed(t *testing.T) {
	rows := Ping().Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "success": false},
		{"timestamp": int64(2), "success": false},
	}, 0, 60)
	require.Len(t, rows, 1)

	_, hasLatency := rows[0]["latency_avg"]
	assert.False(t, hasLatency)
	assert.Equal(t, 100.0, rows[0]["packet_loss"])
	assert.Equal(t, "critical", rows[0]["quality"])
}

func TestPing_EmptyBucket(t *testing.T) {
	assert.Nil(t, Ping().Aggregate(nil, 0, 60))
}

func TestGauge(t *testing.T) {
	rows := Gauge("cpu", "mem").Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "cpu": 10.0},
		{"timestamp": int64(2), "cpu": 20.0},
		{"timestamp": int64(3), "cpu": 30.004},
	}, 0, 60)
	require.Len(t, rows, 1)

	assert.Equal(t, 10.0, rows[0]["cpu_min"])
	assert.Equal(t, 30.0, rows[0]["cpu_max"])
	assert.Equal(t, 20.0, rows[0]["cpu_avg"])
	assert.Equal(t, 3, rows[0]["sample_count"])
	_, hasMem := rows[0]["mem_avg"]
	assert.False(t, hasMem)
}

func TestGauge_NoFieldsPresent(t *testing.T) {
	rows := Gauge("cpu").Aggregate([]rawlog.Record{{"timestamp": int64(1), "disk": 1.0}}, 0, 60)
	assert.Nil(t, rows)
}

func TestSummaries_ReaggregatesRollupRows(t *testing.T) {
	first := Summaries("v").Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "v": 1.0},
		{"timestamp": int64(2), "v": 2.0},
		{"timestamp": int64(3), "v": 3.0},
	}, 0, 60)
	require.Len(t, first, 1)
	assert.Equal(t, 6.0, first[0]["v_sum"])
	assert.Equal(t, uint64(3), first[0]["v_count"])

	second := Summaries("v").Aggregate([]rawlog.Record{
		{"timestamp": int64(120), "v": 4.0},
	}, 60, 60)
	require.Len(t, second, 1)

	merged := Summaries("v").Aggregate([]rawlog.Record{first[0], second[0]}, 0, 300)
	require.Len(t, merged, 1)

	s, ok := SummaryFromRecord(merged[0], "v")
	require.True(t, ok)
	assert.Equal(t, Summary{Sum: 10, Count: 4, Min: 1, Max: 4}, s)
	assert.Equal(t, 2.5, merged[0]["v_avg"])
}

func TestSummary_Merge(t *testing.T) {
	var s Summary
	s.Merge(Summary{})
	assert.Equal(t, Summary{}, s)

	s.Add(-5)
	s.Merge(Summary{Sum: 10, Count: 2, Min: 4, Max: 6})
	assert.Equal(t, Summary{Sum: 5, Count: 3, Min: -5, Max: 6}, s)
	assert.InDelta(t, 5.0/3, s.Average(), 1e-9)
}

func TestPerKey(t *testing.T) {
	agg := PerKey("host", Gauge("latency"))
	rows := agg.Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "host": "b", "latency": 4.0},
		{"timestamp": int64(2), "host": "a", "latency": 2.0},
		{"timestamp": int64(3), "latency": 9.0},
		{"timestamp": int64(4), "host": "a", "latency": 6.0},
	}, 0, 60)
	require.Len(t, rows, 3)

	assert.Equal(t, "a", rows[0]["host"])
	assert.Equal(t, 4.0, rows[0]["latency_avg"])
	assert.Equal(t, "b", rows[1]["host"])
	assert.Equal(t, UnknownKey, rows[2]["host"])
	assert.Equal(t, 9.0, rows[2]["latency_avg"])
}

func TestPerKey_NumericKey(t *testing.T) {
	rows := PerKey("port", Gauge("amps")).Aggregate([]rawlog.Record{
		{"timestamp": int64(1), "port": 3.0, "amps": 1.5},
	}, 0, 60)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0]["port"])
}

func TestFromKind(t *testing.T) {
	agg, err := FromKind(KindPing, nil, "")
	require.NoError(t, err)
	assert.NotNil(t, agg)

	agg, err = FromKind(KindGauge, []string{"cpu"}, "host")
	require.NoError(t, err)
	rows := agg.Aggregate([]rawlog.Record{{"timestamp": int64(1), "cpu": 1.0, "host": "x"}}, 0, 60)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["host"])

	_, err = FromKind(KindSummary, nil, "")
	assert.Error(t, err)

	_, err = FromKind("histogram", nil, "")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
