package aggregate

import (
	"math"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/stats"
)

// Summary accumulates sum, count, min and max. Storing the sum and count
// rather than the average lets coarser buckets be built from finer ones
// without losing precision.
type Summary struct {
	Sum   float64
	Count uint64
	Min   float64
	Max   float64
}

// Add folds one value in.
func (s *Summary) Add(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	}
	s.Sum += v
	s.Count++
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
}

// Merge folds another summary in.
func (s *Summary) Merge(o Summary) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = o
		return
	}
	s.Sum += o.Sum
	s.Count += o.Count
	s.Min = math.Min(s.Min, o.Min)
	s.Max = math.Max(s.Max, o.Max)
}

// Average calculates the mean value
func (s Summary) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Fields writes the summary into r as <prefix>_sum, _count, _min, _max and
// _avg.
func (s Summary) Fields(r rawlog.Record, prefix string) {
	r[prefix+"_sum"] = stats.Round(s.Sum, 3)
	r[prefix+"_count"] = s.Count
	r[prefix+"_min"] = s.Min
	r[prefix+"_max"] = s.Max
	r[prefix+"_avg"] = stats.Round(s.Average(), 3)
}

// SummaryFromRecord reads back a summary written by Fields. It reports false
// when the record does not carry one.
func SummaryFromRecord(r rawlog.Record, prefix string) (Summary, bool) {
	sum, ok1 := r.Float(prefix + "_sum")
	count, ok2 := r.Float(prefix + "_count")
	min, ok3 := r.Float(prefix + "_min")
	max, ok4 := r.Float(prefix + "_max")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Summary{}, false
	}
	return Summary{Sum: sum, Count: uint64(count), Min: min, Max: max}, true
}

// Summaries aggregates each field into a Summary. A record that already
// carries a summary for the field (a rollup row) is merged whole, so the
// aggregator works on raw samples and on rows of a finer tier alike.
func Summaries(fields ...string) rollup.Aggregator {
	return rollup.AggregatorFunc(func(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
		row := rawlog.Record{}
		for _, field := range fields {
			var s Summary
			for _, r := range records {
				if v, ok := r.Float(field); ok {
					s.Add(v)
				} else if prior, ok := SummaryFromRecord(r, field); ok {
					s.Merge(prior)
				}
			}
			if s.Count > 0 {
				s.Fields(row, field)
			}
		}
		if len(row) == 0 {
			return nil
		}
		withPeriod(row, bucketStart, interval)
		return []rawlog.Record{row}
	})
}

// withPeriod stamps the bucket bounds on a row.
func withPeriod(row rawlog.Record, bucketStart, interval int64) {
	row["period_start"] = bucketStart
	row["period_end"] = bucketStart + interval
}
