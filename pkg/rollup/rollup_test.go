package rollup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/storage"
	"github.com/nicktill/tinywatch/pkg/storage/file"
	"github.com/nicktill/tinywatch/pkg/storage/memory"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// base is aligned to every default tier interval.
var base = time.Unix(1714564800, 0)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Add(d time.Duration) { c.now = c.now.Add(d) }

// countAgg emits one row per bucket carrying its start and sample count.
var countAgg = AggregatorFunc(func(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
	return []rawlog.Record{{"bucket_start": bucketStart, "sample_count": len(records)}}
})

type fixture struct {
	dir   string
	clock *clock
	proc  *Processor
	raw   *rawlog.Store
	cp    storage.Checkpoints
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	c := &clock{now: base}
	cfg.Now = c.Now
	return &fixture{
		dir:   t.TempDir(),
		clock: c,
		proc:  New(cfg),
		raw:   rawlog.New(rawlog.Config{Now: c.Now}),
		cp:    memory.New(),
	}
}

func (f *fixture) job(agg Aggregator) Job {
	return Job{
		Source:      "test",
		RawPath:     filepath.Join(f.dir, "raw.log"),
		Checkpoints: f.cp,
		RollupPath:  func(t tier.Tier) string { return tier.RollupPath(f.dir, t) },
		Aggregator:  agg,
	}
}

// write appends one sample per step seconds in [from, to].
func (f *fixture) write(t *testing.T, from, to time.Time, step time.Duration) {
	t.Helper()
	var batch []rawlog.Record
	for ts := from; !ts.After(to); ts = ts.Add(step) {
		batch = append(batch, rawlog.Record{"timestamp": ts.Unix(), "value": 1.0})
	}
	require.NoError(t, f.raw.WriteBatch(filepath.Join(f.dir, "raw.log"), batch))
}

func mustTier(t *testing.T, name string) tier.Tier {
	t.Helper()
	tr, err := tier.Default().Get(name)
	require.NoError(t, err)
	return tr
}

func bucketStarts(t *testing.T, rows []rawlog.Record) []int64 {
	t.Helper()
	var out []int64
	for _, r := range rows {
		v, ok := r.Float("bucket_start")
		require.True(t, ok)
		out = append(out, int64(v))
	}
	return out
}

func TestProcessTier_NeverAggregatesIncompleteBucket(t *testing.T) {
	f := newFixture(t, Config{})
	now := f.clock.Now()
	oneMin := mustTier(t, "1min")

	// Two hours of minute samples ending two minutes before now.
	f.write(t, now.Add(-2*time.Hour), now.Add(-2*time.Minute), time.Minute)

	res, err := f.proc.ProcessTier(context.Background(), oneMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, 118, res.Buckets)
	assert.Equal(t, 1, res.Pending, "the last bucket is inside the safety margin")
	require.Len(t, res.Rows, 118)

	last := now.Add(-2 * time.Minute).Unix()
	for _, row := range res.Rows {
		ts, _ := row.Timestamp()
		assert.Less(t, ts, last, "no row may come from the open bucket")
	}
	assert.Equal(t, last, res.State.LastBucketEnd)
	assert.Equal(t, now.Add(-3*time.Minute).Unix(), res.State.LastProcessed)
	assert.Equal(t, now.Unix(), res.State.LastRollup)

	// Once the clock moves past the margin the bucket closes, exactly once.
	f.clock.Add(time.Minute)
	res, err = f.proc.ProcessTier(context.Background(), oneMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []int64{last}, bucketStarts(t, res.Rows))
}

func TestProcessTier_RowsAtBucketMidpoint(t *testing.T) {
	f := newFixture(t, Config{})
	fiveMin := mustTier(t, "5min")
	now := f.clock.Now()

	f.write(t, now.Add(-20*time.Minute), now.Add(-11*time.Minute), 30*time.Second)

	res, err := f.proc.ProcessTier(context.Background(), fiveMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	for _, row := range res.Rows {
		start, _ := row.Float("bucket_start")
		ts, _ := row.Timestamp()
		assert.Equal(t, int64(start)+150, ts)
		assert.Zero(t, int64(start)%300, "buckets are epoch aligned")
	}
	count, _ := res.Rows[0].Float("sample_count")
	assert.Equal(t, 10.0, count)
}

func TestProcessTier_CheckpointMonotoneAndNoDuplicateBuckets(t *testing.T) {
	f := newFixture(t, Config{})
	oneMin := mustTier(t, "1min")
	ctx := context.Background()

	var lastProcessed int64
	for i := 0; i < 12; i++ {
		now := f.clock.Now()
		f.write(t, now.Add(-50*time.Second), now.Add(-5*time.Second), 15*time.Second)
		// A straggler for a bucket that has long been closed.
		f.write(t, now.Add(-10*time.Minute), now.Add(-10*time.Minute), time.Minute)

		res, err := f.proc.ProcessTier(ctx, oneMin, f.job(countAgg), ProcessOptions{Force: true})
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.State.LastProcessed, lastProcessed)
		lastProcessed = res.State.LastProcessed

		f.clock.Add(time.Duration(60+i*20) * time.Second)
	}

	out, err := f.proc.Read(tier.RollupPath(f.dir, oneMin), oneMin, 1, f.clock.Now().Unix(), nil)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.NotEmpty(t, out.Data)

	starts := bucketStarts(t, out.Data)
	for i := 1; i < len(starts); i++ {
		assert.Greater(t, starts[i], starts[i-1], "bucket %d written twice or out of order", starts[i])
	}
}

func TestProcessTier_Throttle(t *testing.T) {
	f := newFixture(t, Config{})
	oneMin := mustTier(t, "1min")
	ctx := context.Background()

	res, err := f.proc.ProcessTier(ctx, oneMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.False(t, res.Throttled)

	f.clock.Add(30 * time.Second)
	res, err = f.proc.ProcessTier(ctx, oneMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.True(t, res.Throttled)

	res, err = f.proc.ProcessTier(ctx, oneMin, f.job(countAgg), ProcessOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, res.Throttled)

	f.clock.Add(60 * time.Second)
	res, err = f.proc.ProcessTier(ctx, oneMin, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.False(t, res.Throttled)
}

func TestProcessTier_EmptyAggregateSkipsBucketButAdvances(t *testing.T) {
	f := newFixture(t, Config{})
	oneMin := mustTier(t, "1min")
	now := f.clock.Now()

	f.write(t, now.Add(-10*time.Minute), now.Add(-10*time.Minute), time.Minute)
	f.write(t, now.Add(-5*time.Minute), now.Add(-5*time.Minute+40*time.Second), 20*time.Second)

	needsTwo := AggregatorFunc(func(records []rawlog.Record, start, interval int64) []rawlog.Record {
		if len(records) < 2 {
			return nil
		}
		return countAgg(records, start, interval)
	})

	res, err := f.proc.ProcessTier(context.Background(), oneMin, f.job(needsTwo), ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Buckets)
	assert.Equal(t, 1, res.Empty)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, now.Add(-4*time.Minute).Unix(), res.State.LastBucketEnd)

	data, err := os.ReadFile(tier.RollupPath(f.dir, oneMin))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"sample_count":0`, "skipped buckets are not written as zero")
}

func TestProcessTier_FanOut(t *testing.T) {
	f := newFixture(t, Config{})
	oneMin := mustTier(t, "1min")
	now := f.clock.Now()

	require.NoError(t, f.raw.WriteBatch(filepath.Join(f.dir, "raw.log"), []rawlog.Record{
		{"timestamp": now.Add(-5 * time.Minute).Unix(), "host": "a"},
		{"timestamp": now.Add(-5*time.Minute + time.Second).Unix(), "host": "b"},
	}))

	perHost := AggregatorFunc(func(records []rawlog.Record, start, interval int64) []rawlog.Record {
		var rows []rawlog.Record
		for _, r := range records {
			h, _ := r.String("host")
			rows = append(rows, rawlog.Record{"host": h})
		}
		return rows
	})

	res, err := f.proc.ProcessTier(context.Background(), oneMin, f.job(perHost), ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	ts0, _ := res.Rows[0].Timestamp()
	ts1, _ := res.Rows[1].Timestamp()
	assert.Equal(t, ts0, ts1)
	assert.Equal(t, Midpoint(now.Add(-5*time.Minute).Unix(), 60), ts0)
}

func TestProcessTier_CompressedTier(t *testing.T) {
	f := newFixture(t, Config{})
	tr := mustTier(t, "30min")
	require.True(t, tr.Compressed)
	ctx := context.Background()
	now := f.clock.Now()

	f.write(t, now.Add(-3*time.Hour), now.Add(-5*time.Minute), 5*time.Minute)
	res, err := f.proc.ProcessTier(ctx, tr, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 5)

	f.clock.Add(time.Hour)
	f.write(t, now, now.Add(55*time.Minute), 5*time.Minute)
	res, err = f.proc.ProcessTier(ctx, tr, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)

	path := tier.RollupPath(f.dir, tr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2])

	out, err := f.proc.Read(path, tr, 0, 0, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 7, out.Count)
}

func TestProcessTier_PrunesPastRetention(t *testing.T) {
	f := newFixture(t, Config{PruneThreshold: 1})
	short := tier.Tier{Name: "short", Interval: time.Minute, Retention: 10 * time.Minute}
	now := f.clock.Now()

	f.write(t, now.Add(-30*time.Minute), now.Add(-5*time.Minute), time.Minute)

	res, err := f.proc.ProcessTier(context.Background(), short, f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 26)
	assert.Equal(t, 20, res.Pruned)

	out, err := f.proc.Read(tier.RollupPath(f.dir, short), short, 1, now.Unix(), nil)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Count)
}

func TestProcessTier_CorruptCheckpointRescansOnlyThatTier(t *testing.T) {
	f := newFixture(t, Config{})
	now := f.clock.Now()
	statePath := filepath.Join(f.dir, "rollup-state.json")
	doc := `{"1min": "garbage", "5min": {"last_processed": 1, "last_bucket_end": 9999999999, "last_rollup": 0}}`
	require.NoError(t, os.WriteFile(statePath, []byte(doc), 0644))
	f.cp = file.New(statePath)

	f.write(t, now.Add(-30*time.Minute), now.Add(-10*time.Minute), time.Minute)
	ctx := context.Background()

	res, err := f.proc.ProcessTier(ctx, mustTier(t, "1min"), f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 21, "corrupt tier starts over from the beginning")

	res, err = f.proc.ProcessTier(ctx, mustTier(t, "5min"), f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Rows, "intact tier keeps its checkpoint")
}

func TestProcessAll_CollectsTierErrors(t *testing.T) {
	f := newFixture(t, Config{})
	failing := memory.New()
	failing.LoadErr = errors.New("disk on fire")
	f.cp = failing

	results, err := f.proc.ProcessAll(context.Background(), f.job(countAgg), ProcessOptions{})
	require.Error(t, err)
	assert.Empty(t, results)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)
	assert.ErrorIs(t, err, failing.LoadErr)
}

func TestProcessAll_RunsEveryTier(t *testing.T) {
	f := newFixture(t, Config{})
	now := f.clock.Now()
	f.write(t, now.Add(-5*time.Hour), now.Add(-time.Minute), time.Minute)

	results, err := f.proc.ProcessAll(context.Background(), f.job(countAgg), ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, results, 4)

	byTier := map[string]int{}
	for _, r := range results {
		byTier[r.Tier] = len(r.Rows)
	}
	assert.Equal(t, map[string]int{"1min": 298, "5min": 59, "30min": 9, "2hour": 2}, byTier)
}

func TestProcessTier_InvalidJob(t *testing.T) {
	f := newFixture(t, Config{})
	job := f.job(nil)

	_, err := f.proc.ProcessTier(context.Background(), mustTier(t, "1min"), job, ProcessOptions{})
	assert.Error(t, err)
}

func TestResetTier(t *testing.T) {
	ctx := context.Background()
	cp := memory.New()
	require.NoError(t, cp.Save(ctx, storage.State{
		"1min": {LastProcessed: 10, LastBucketEnd: 60, LastRollup: 70},
		"5min": {LastProcessed: 10},
	}))

	require.NoError(t, ResetTier(ctx, cp, "1min"))

	state, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.True(t, state.Tier("1min").IsZero())
	assert.Equal(t, int64(10), state.Tier("5min").LastProcessed)
}

func TestRead_MissingLogIsNoData(t *testing.T) {
	f := newFixture(t, Config{})
	tr := mustTier(t, "1min")

	out, err := f.proc.Read(filepath.Join(f.dir, "1min.log"), tr, 0, 0, nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 0, out.Count)
	assert.Equal(t, f.clock.Now().Add(-tr.Retention).Unix(), out.Period.Start)
	assert.Equal(t, f.clock.Now().Unix(), out.Period.End)
}

func TestRead_RangeAndFilter(t *testing.T) {
	f := newFixture(t, Config{})
	tr := mustTier(t, "1min")
	path := filepath.Join(f.dir, "1min.log")

	content := `{"timestamp":300,"host":"a"}
{"timestamp":100,"host":"a"}
not json
{"timestamp":200,"host":"b"}
{"timestamp":400,"host":"a"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := f.proc.Read(path, tr, 100, 300, nil)
	require.NoError(t, err)
	require.True(t, out.Success)
	var stamps []int64
	for _, r := range out.Data {
		ts, _ := r.Timestamp()
		stamps = append(stamps, ts)
	}
	assert.Equal(t, []int64{100, 200, 300}, stamps, "inclusive range, sorted ascending")

	out, err = f.proc.Read(path, tr, 100, 400, func(r rawlog.Record) bool {
		h, _ := r.String("host")
		return h == "a"
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
}
