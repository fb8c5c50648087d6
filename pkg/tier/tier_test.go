package tier

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Tiers(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"1min", "5min", "30min", "2hour"}, r.Names())

	want := map[string][2]int64{
		"1min":  {60, 6 * 3600},
		"5min":  {300, 48 * 3600},
		"30min": {1800, 14 * 86400},
		"2hour": {7200, 90 * 86400},
	}
	for name, w := range want {
		tr, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, w[0], tr.IntervalSeconds(), name)
		assert.Equal(t, w[1], tr.RetentionSeconds(), name)
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Default().Get("1sec")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestBestForHours(t *testing.T) {
	r := Default()
	tests := []struct {
		hours float64
		want  string
	}{
		{1, "1min"},
		{6, "1min"},
		{6.5, "5min"},
		{12, "5min"},
		{48, "5min"},
		{72, "30min"},
		{336, "30min"},
		{337, "2hour"},
		{500, "2hour"},
		{10000, "2hour"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.BestForHours(tt.hours).Name, "hours=%v", tt.hours)
	}
}

func TestBestForHours_Monotone(t *testing.T) {
	r := Default()
	prev := time.Duration(0)
	for h := 0.0; h <= 3000; h += 0.5 {
		iv := r.BestForHours(h).Interval
		require.GreaterOrEqual(t, iv, prev, "coarseness decreased at %v hours", h)
		prev = iv
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
	}{
		{"empty", nil},
		{"sub-second", []Tier{{Name: "x", Interval: time.Millisecond, Retention: time.Hour}}},
		{"retention below interval", []Tier{{Name: "x", Interval: time.Hour, Retention: time.Minute}}},
		{"duplicate name", []Tier{
			{Name: "x", Interval: time.Minute, Retention: time.Hour, MaxHours: 1},
			{Name: "x", Interval: time.Hour, Retention: 24 * time.Hour},
		}},
		{"non-monotone hours", []Tier{
			{Name: "a", Interval: time.Minute, Retention: time.Hour, MaxHours: 10},
			{Name: "b", Interval: 5 * time.Minute, Retention: time.Hour, MaxHours: 5},
			{Name: "c", Interval: time.Hour, Retention: 24 * time.Hour, MaxHours: math.Inf(1)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.tiers...)
			assert.Error(t, err)
		})
	}
}

func TestNewRegistry_SortsFinestFirst(t *testing.T) {
	r, err := NewRegistry(
		Tier{Name: "hour", Interval: time.Hour, Retention: 24 * time.Hour},
		Tier{Name: "min", Interval: time.Minute, Retention: time.Hour, MaxHours: 2},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"min", "hour"}, r.Names())
}

func TestBucketStart(t *testing.T) {
	tr, err := Default().Get("5min")
	require.NoError(t, err)

	assert.Equal(t, int64(1714564800), tr.BucketStart(1714564800))
	assert.Equal(t, int64(1714564800), tr.BucketStart(1714565099))
	assert.Equal(t, int64(1714565100), tr.BucketStart(1714565100))
	assert.Equal(t, int64(-300), tr.BucketStart(-1))
}

func TestRollupPath(t *testing.T) {
	r := Default()
	one, _ := r.Get("1min")
	two, _ := r.Get("2hour")

	assert.Equal(t, filepath.Join("data", "1min.log"), RollupPath("data", one))
	assert.Equal(t, filepath.Join("data", "2hour.log.gz"), RollupPath("data", two))
}

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	r := Default()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5min.log"), []byte("abc"), 0644))

	infos := r.Info(func(t Tier) string { return RollupPath(dir, t) })
	require.Len(t, infos, 4)

	assert.Equal(t, "1 minute", infos[0].Interval)
	assert.Equal(t, "6 hours", infos[0].Retention)
	assert.False(t, infos[0].FileExists)

	assert.True(t, infos[1].FileExists)
	assert.Equal(t, int64(3), infos[1].FileSize)

	assert.Equal(t, "14 days", infos[2].Retention)
	assert.True(t, infos[3].Compressed)
	assert.Equal(t, "2 hours", infos[3].Interval)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "30 seconds", FormatInterval(30*time.Second))
	assert.Equal(t, "5 minutes", FormatInterval(5*time.Minute))
	assert.Equal(t, "1 hour", FormatInterval(time.Hour))
	assert.Equal(t, "45 minutes", FormatDuration(45*time.Minute))
	assert.Equal(t, "1 day", FormatDuration(24*time.Hour))
	assert.Equal(t, "90 days", FormatDuration(90*24*time.Hour))
}
