package rawlog

import (
	"encoding/json"
	"strconv"
)

// TimestampField is the field every record carries, in Unix epoch seconds.
const TimestampField = "timestamp"

// Record is one sample: field name to scalar value. Records decoded from disk
// hold float64 for every number.
type Record map[string]any

// Timestamp returns the record's epoch-seconds timestamp.
func (r Record) Timestamp() (int64, bool) {
	v, ok := r[TimestampField]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Float returns a numeric field. Numeric strings are accepted.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Bool returns a boolean field. Numbers are true when non-zero.
func (r Record) Bool(key string) (bool, bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	case nil:
		return false, false
	default:
		f, ok := toFloat(v)
		return f != 0, ok
	}
}

// String returns a string field.
func (r Record) String(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
