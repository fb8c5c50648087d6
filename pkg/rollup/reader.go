package rollup

import (
	"fmt"
	"os"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// Period is an inclusive time range in epoch seconds.
type Period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ReadResult is the answer to a rollup query. Success is false when the
// tier has no rollup log yet, which callers should present as "no data"
// rather than as zero values.
type ReadResult struct {
	Success bool            `json:"success"`
	Tier    string          `json:"tier"`
	Period  Period          `json:"period"`
	Count   int             `json:"count"`
	Data    []rawlog.Record `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Read returns the rows of the rollup log at path with start <= timestamp
// <= end that pass filter, ascending by timestamp. A zero start or end
// defaults to now minus the tier's retention or to now.
func (p *Processor) Read(path string, t tier.Tier, start, end int64, filter func(rawlog.Record) bool) (*ReadResult, error) {
	now := p.cfg.Now()
	if end == 0 {
		end = now.Unix()
	}
	if start == 0 {
		start = now.Add(-t.Retention).Unix()
	}

	res := &ReadResult{
		Tier:   t.Name,
		Period: Period{Start: start, End: end},
		Data:   []rawlog.Record{},
	}

	rows, err := readRows(path, t.Compressed)
	if err != nil {
		if os.IsNotExist(err) {
			res.Error = fmt.Sprintf("no rollup data for tier %s yet", t.Name)
			return res, nil
		}
		return nil, fmt.Errorf("failed to read %s rollups: %w", t.Name, err)
	}

	for _, row := range rows {
		ts, _ := row.Timestamp()
		if ts < start || ts > end {
			continue
		}
		if filter != nil && !filter(row) {
			continue
		}
		res.Data = append(res.Data, row)
	}
	rawlog.SortByTimestamp(res.Data)

	res.Success = true
	res.Count = len(res.Data)
	return res, nil
}
