package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// ErrNoData is returned when the tier has no rollup log yet. Nothing has
// been written to the output when it is returned.
var ErrNoData = errors.New("no rollup data")

// Reader is the read side of the pipeline.
type Reader interface {
	Registry() *tier.Registry
	QueryTier(ctx context.Context, source, tierName string, start, end int64, filter func(rawlog.Record) bool) (*rollup.ReadResult, error)
}

// Exporter handles exporting rollup rows to various formats
type Exporter struct {
	reader Reader
	now    func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(reader Reader) *Exporter {
	return &Exporter{reader: reader, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Source string

	// Tier to read. Empty picks the tier best suited to the window.
	Tier string

	// Time range to export
	Start time.Time
	End   time.Time

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	RowsExported int       `json:"rows_exported"`
	Tier         string    `json:"tier"`
	TimeRange    string    `json:"time_range"`
	Format       string    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata Metadata        `json:"metadata"`
	Rows     []rawlog.Record `json:"rows"`
}

// Metadata describes an export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Source     string    `json:"source"`
	Tier       string    `json:"tier"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	RowCount   int       `json:"row_count"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Export writes opts.Format to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	switch opts.Format {
	case "", "json":
		return e.ExportToJSON(ctx, w, opts)
	case "csv":
		return e.ExportToCSV(ctx, w, opts)
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}
}

// ExportToJSON exports rows as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	res, err := e.fetch(ctx, &opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt: e.now().UTC(),
			Source:     opts.Source,
			Tier:       res.Tier,
			StartTime:  opts.Start.UTC(),
			EndTime:    opts.End.UTC(),
			RowCount:   len(res.Data),
			Format:     "json",
			Version:    "1.0",
		},
		Rows: res.Data,
	}

	// Encode as pretty JSON
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return e.result(opts, res, "json", doc.Metadata.ExportedAt), nil
}

// ExportToCSV exports rows as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	res, err := e.fetch(ctx, &opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	// Collect all field keys across all rows for consistent columns
	fields := collectFieldKeys(res.Data)

	header := append([]string{rawlog.TimestampField, "time"}, fields...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range res.Data {
		ts, _ := r.Timestamp()
		row := []string{
			strconv.FormatInt(ts, 10),
			time.Unix(ts, 0).UTC().Format(time.RFC3339),
		}
		for _, key := range fields {
			row = append(row, formatValue(r[key]))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(opts, res, "csv", e.now().UTC()), nil
}

func (e *Exporter) fetch(ctx context.Context, opts *ExportOptions) (*rollup.ReadResult, error) {
	if opts.End.IsZero() {
		opts.End = e.now()
	}
	if opts.Start.IsZero() {
		opts.Start = opts.End.Add(-DefaultExportWindow)
	}
	if opts.Tier == "" {
		opts.Tier = e.reader.Registry().BestForHours(opts.End.Sub(opts.Start).Hours()).Name
	}

	res, err := e.reader.QueryTier(ctx, opts.Source, opts.Tier, opts.Start.Unix(), opts.End.Unix(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrNoData, res.Error)
	}
	return res, nil
}

func (e *Exporter) result(opts ExportOptions, res *rollup.ReadResult, format string, at time.Time) *ExportResult {
	return &ExportResult{
		RowsExported: len(res.Data),
		Tier:         res.Tier,
		TimeRange:    fmt.Sprintf("%s to %s", opts.Start.UTC().Format(time.RFC3339), opts.End.UTC().Format(time.RFC3339)),
		Format:       format,
		ExportedAt:   at,
	}
}

// collectFieldKeys gathers all field keys except the timestamp, sorted
func collectFieldKeys(rows []rawlog.Record) []string {
	keySet := make(map[string]bool)
	for _, r := range rows {
		for key := range r {
			if key != rawlog.TimestampField {
				keySet[key] = true
			}
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
