package rawlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// prefixLayout is the human-readable datetime written before each record.
const prefixLayout = "2006-01-02 15:04:05"

// timestampPattern finds an integer timestamp key without decoding the
// whole line. The number must end at a delimiter, so floats and exponents
// never match.
var (
	timestampKey     = []byte(`"timestamp"`)
	timestampPattern = regexp.MustCompile(`[{,]\s*"timestamp"\s*:\s*(-?\d+)\s*[,}]`)
)

// AppendLine encodes r as one prefixed line (with trailing newline) onto buf.
// r must already carry a timestamp.
func AppendLine(buf *bytes.Buffer, r Record) error {
	ts, ok := r.Timestamp()
	if !ok {
		return ErrNoTimestamp
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	buf.WriteByte('[')
	buf.WriteString(time.Unix(ts, 0).UTC().Format(prefixLayout))
	buf.WriteString("] ")
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

// ParseLine decodes one line in either the prefixed or the bare JSON form.
// It reports false for blank or malformed lines and for records without a
// numeric timestamp.
func ParseLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if line[0] == '[' {
		end := bytes.IndexByte(line, ']')
		if end < 0 {
			return nil, false
		}
		line = bytes.TrimSpace(line[end+1:])
	}
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}

	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, false
	}
	if _, ok := r.Timestamp(); !ok {
		return nil, false
	}
	return r, true
}

// peekTimestamp extracts the timestamp with a regexp. It only answers when
// the line mentions "timestamp" once, since a nested object may carry its
// own. A false result means the caller has to decode the line to
// know.
func peekTimestamp(line []byte) (int64, bool) {
	if bytes.Count(line, timestampKey) != 1 {
		return 0, false
	}
	m := timestampPattern.FindSubmatch(line)
	if m == nil {
		return 0, false
	}
	ts, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
