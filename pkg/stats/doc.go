// Package stats holds the small, allocation-light statistics used by rollup
// aggregators: latency summaries with nearest-rank percentiles, jitter
// estimation and quality banding.
//
// Everything here is a pure function of its inputs. Callers own the state
// (for example the per-host RFC 3550 estimators) and decide how results are
// rounded before they are persisted.
package stats
