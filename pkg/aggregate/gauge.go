package aggregate

import (
	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/stats"
)

// Gauge reports <field>_min, <field>_max and <field>_avg (two decimals) for
// each named numeric field, plus sample_count. Buckets where none of the
// fields appear yield no row.
func Gauge(fields ...string) rollup.Aggregator {
	return rollup.AggregatorFunc(func(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
		row := rawlog.Record{}
		for _, field := range fields {
			var s Summary
			for _, r := range records {
				if v, ok := r.Float(field); ok {
					s.Add(v)
				}
			}
			if s.Count == 0 {
				continue
			}
			row[field+"_min"] = stats.Round(s.Min, 2)
			row[field+"_max"] = stats.Round(s.Max, 2)
			row[field+"_avg"] = stats.Round(s.Average(), 2)
		}
		if len(row) == 0 {
			return nil
		}
		row["sample_count"] = len(records)
		withPeriod(row, bucketStart, interval)
		return []rawlog.Record{row}
	})
}
