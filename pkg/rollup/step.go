package rollup

import (
	"sort"
	"time"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/storage"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// StepResult is the outcome of folding records into one tier.
type StepResult struct {
	// State is the advanced checkpoint.
	State storage.TierState

	// Rows are the rollup rows to append, in bucket order.
	Rows []rawlog.Record

	// Buckets counts closed buckets consumed, including empty ones.
	Buckets int

	// Empty counts closed buckets the aggregator returned no rows for.
	Empty int

	// Pending counts records left for a later run because their bucket is
	// still open.
	Pending int
}

// Step folds records into tier t starting from state. It performs no I/O.
//
// Records in buckets ending at or before state.LastBucketEnd are ignored.
// Buckets with end + margin > now are left pending. LastRollup is set to now
// even when nothing closed.
func Step(state storage.TierState, t tier.Tier, records []rawlog.Record, agg Aggregator, now time.Time, margin time.Duration) StepResult {
	interval := t.IntervalSeconds()
	nowUnix := now.Unix()
	marginSecs := int64(margin / time.Second)

	buckets := make(map[int64][]rawlog.Record)
	for _, r := range records {
		ts, ok := r.Timestamp()
		if !ok {
			continue
		}
		start := t.BucketStart(ts)
		buckets[start] = append(buckets[start], r)
	}

	starts := make([]int64, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	res := StepResult{State: state}
	res.State.LastRollup = nowUnix

	for _, start := range starts {
		end := start + interval
		bucket := buckets[start]

		if end <= state.LastBucketEnd {
			continue
		}
		if end+marginSecs > nowUnix {
			res.Pending += len(bucket)
			continue
		}

		rawlog.SortByTimestamp(bucket)
		res.Buckets++

		rows := agg.Aggregate(bucket, start, interval)
		if len(rows) == 0 {
			res.Empty++
		}
		for _, row := range rows {
			if row == nil {
				continue
			}
			if _, ok := row.Timestamp(); !ok {
				row = row.Clone()
				row[rawlog.TimestampField] = Midpoint(start, interval)
			}
			res.Rows = append(res.Rows, row)
		}

		if newest, _ := bucket[len(bucket)-1].Timestamp(); newest > res.State.LastProcessed {
			res.State.LastProcessed = newest
		}
		if end > res.State.LastBucketEnd {
			res.State.LastBucketEnd = end
		}
	}

	return res
}
