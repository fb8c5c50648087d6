package aggregate

import (
	"errors"
	"fmt"

	"github.com/nicktill/tinywatch/pkg/rollup"
)

// ErrUnknownKind is returned by FromKind for an unrecognised kind.
var ErrUnknownKind = errors.New("unknown aggregation kind")

// Kinds accepted by FromKind.
const (
	KindPing    = "ping"
	KindGauge   = "gauge"
	KindSummary = "summary"
)

// FromKind builds an aggregator from configuration. fields lists the numeric
// fields for gauge and summary. A non-empty key wraps the result in PerKey.
func FromKind(kind string, fields []string, key string) (rollup.Aggregator, error) {
	var agg rollup.Aggregator
	switch kind {
	case KindPing:
		agg = Ping()
	case KindGauge, KindSummary:
		if len(fields) == 0 {
			return nil, fmt.Errorf("%s aggregation needs at least one field", kind)
		}
		if kind == KindGauge {
			agg = Gauge(fields...)
		} else {
			agg = Summaries(fields...)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if key != "" {
		agg = PerKey(key, agg)
	}
	return agg, nil
}
