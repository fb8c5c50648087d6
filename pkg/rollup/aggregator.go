package rollup

import (
	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// Aggregator turns the records of one closed bucket into rollup rows.
//
// records are ordered by timestamp. bucketStart and interval are in seconds.
// Returning no rows skips the bucket (nothing is written, the checkpoint
// still moves past it); returning several rows fans the bucket out, for
// example one row per host. Rows without a timestamp get the bucket
// midpoint.
type Aggregator interface {
	Aggregate(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record

// Aggregate calls f.
func (f AggregatorFunc) Aggregate(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
	return f(records, bucketStart, interval)
}

// Midpoint is the timestamp given to rows of the bucket starting at
// bucketStart.
func Midpoint(bucketStart, interval int64) int64 {
	return bucketStart + interval/2
}
