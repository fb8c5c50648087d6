package aggregate

import (
	"fmt"
	"sort"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
)

// UnknownKey groups records that lack the PerKey field.
const UnknownKey = "unknown"

// PerKey splits each bucket by the value of key and runs inner on every
// group, tagging its rows with key. Groups are emitted in sorted key order
// so rows with equal timestamps have a stable order in the rollup log.
func PerKey(key string, inner rollup.Aggregator) rollup.Aggregator {
	return rollup.AggregatorFunc(func(records []rawlog.Record, bucketStart, interval int64) []rawlog.Record {
		groups := make(map[string][]rawlog.Record)
		for _, r := range records {
			k := keyOf(r, key)
			groups[k] = append(groups[k], r)
		}

		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var rows []rawlog.Record
		for _, k := range keys {
			for _, row := range inner.Aggregate(groups[k], bucketStart, interval) {
				if row == nil {
					continue
				}
				row[key] = k
				rows = append(rows, row)
			}
		}
		return rows
	})
}

func keyOf(r rawlog.Record, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return UnknownKey
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return UnknownKey
		}
		return s
	}
	return fmt.Sprint(v)
}
