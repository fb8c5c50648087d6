package stats

import "math"

// Jitter is the spread between consecutive samples of a series.
type Jitter struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// JitterFromLatencies computes jitter from the absolute differences between
// consecutive samples, in input order. Avg is the mean difference and Max the
// largest one. The second return is false when fewer than two samples are
// given.
func JitterFromLatencies(values []float64) (Jitter, bool) {
	if len(values) < 2 {
		return Jitter{}, false
	}

	var sum, max float64
	for i := 1; i < len(values); i++ {
		d := math.Abs(values[i] - values[i-1])
		sum += d
		if d > max {
			max = d
		}
	}

	return Jitter{
		Avg: sum / float64(len(values)-1),
		Max: max,
	}, true
}

// JitterEstimator is the RFC 3550 running interarrival jitter estimate:
//
//	J(i) = J(i-1) + (|D(i-1,i)| - J(i-1)) / 16
//
// The zero value is ready to use. It is not safe for concurrent use; keep one
// per host.
type JitterEstimator struct {
	prev   float64
	jitter float64
	primed bool
}

// Observe feeds one latency sample. It returns false for the first sample,
// which only primes the estimator.
func (e *JitterEstimator) Observe(latency float64) (float64, bool) {
	if !e.primed {
		e.prev = latency
		e.primed = true
		return 0, false
	}

	d := math.Abs(latency - e.prev)
	e.jitter += (d - e.jitter) / 16
	e.prev = latency
	return e.jitter, true
}

// Value returns the current estimate.
func (e *JitterEstimator) Value() float64 {
	return e.jitter
}
