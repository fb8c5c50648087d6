package stats

// Rating is a coarse quality band.
type Rating string

const (
	Good     Rating = "good"
	Fair     Rating = "fair"
	Poor     Rating = "poor"
	Critical Rating = "critical"
)

// severity orders ratings from best to worst.
var severity = map[Rating]int{
	Good:     0,
	Fair:     1,
	Poor:     2,
	Critical: 3,
}

// Thresholds are the upper bounds (inclusive) of the good, fair and poor
// bands. They must be strictly increasing.
type Thresholds struct {
	Good float64 `json:"good"`
	Fair float64 `json:"fair"`
	Poor float64 `json:"poor"`
}

// Default threshold tables.
var (
	LatencyThresholds    = Thresholds{Good: 50, Fair: 100, Poor: 250} // ms
	JitterThresholds     = Thresholds{Good: 10, Fair: 20, Poor: 50}   // ms
	PacketLossThresholds = Thresholds{Good: 1, Fair: 2, Poor: 5}      // percent
)

// Rate classifies v against t.
func (t Thresholds) Rate(v float64) Rating {
	return QualityRating(v, t.Good, t.Fair, t.Poor)
}

// QualityRating classifies value into a band:
//
//	value <= goodMax           good
//	value <= fairMax           fair
//	value <= poorMax           poor
//	otherwise                  critical
func QualityRating(value, goodMax, fairMax, poorMax float64) Rating {
	switch {
	case value <= goodMax:
		return Good
	case value <= fairMax:
		return Fair
	case value <= poorMax:
		return Poor
	default:
		return Critical
	}
}

// OverallQuality returns the worst of the given ratings, or Good when none
// are given. Unknown ratings are ignored.
func OverallQuality(ratings ...Rating) Rating {
	worst := Good
	for _, r := range ratings {
		s, ok := severity[r]
		if ok && s > severity[worst] {
			worst = r
		}
	}
	return worst
}
