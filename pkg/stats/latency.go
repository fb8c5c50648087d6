package stats

import (
	"math"
	"sort"
)

// LatencySummary is the min/max/avg/p95 view of a set of latency samples.
type LatencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P95 float64 `json:"p95"`
}

// AggregateLatencies summarizes values. The second return is false when
// values is empty.
//
// P95 uses the nearest-rank method, so for small samples (n <= 20) it is the
// maximum value; no smoothing should be expected from tiny buckets.
func AggregateLatencies(values []float64) (LatencySummary, bool) {
	if len(values) == 0 {
		return LatencySummary{}, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return LatencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P95: NearestRank(sorted, 95),
	}, true
}

// NearestRank returns the pct-th percentile of an ascending-sorted slice
// using the nearest-rank method: rank = ceil(pct/100 * n), 1-indexed.
// It returns 0 for an empty slice.
func NearestRank(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	// The epsilon keeps exact ranks like 0.95*20 from rounding up to 20.
	rank := int(math.Ceil(pct/100*float64(n) - 1e-9))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// Round rounds v to the given number of decimal places.
func Round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
