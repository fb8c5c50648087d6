// Package aggregate provides ready-made rollup.Aggregator strategies.
//
//   - Ping: latency, jitter, success rate and quality ratings for probe samples
//   - Gauge: min/max/avg of named numeric fields (CPU, memory, current)
//   - Summaries: sum/count/min/max/avg, which re-aggregate losslessly
//   - PerKey: fans any of the above out by a record field such as host
//
// FromKind builds one from configuration. Every aggregator returns no rows
// for a bucket without usable samples, so empty buckets are skipped rather
// than written as zeros.
package aggregate
