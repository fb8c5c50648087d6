package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/tier"
)

type fakeReader struct {
	registry *tier.Registry
	rows     []rawlog.Record
	noData   bool

	gotTier  string
	gotStart int64
	gotEnd   int64
}

func (f *fakeReader) Registry() *tier.Registry { return f.registry }

func (f *fakeReader) QueryTier(_ context.Context, source, tierName string, start, end int64, _ func(rawlog.Record) bool) (*rollup.ReadResult, error) {
	if source != "ping" {
		return nil, pipeline.ErrUnknownSource
	}
	t, err := f.registry.Get(tierName)
	if err != nil {
		return nil, err
	}
	f.gotTier, f.gotStart, f.gotEnd = t.Name, start, end

	res := &rollup.ReadResult{Tier: t.Name, Period: rollup.Period{Start: start, End: end}, Data: []rawlog.Record{}}
	if f.noData {
		res.Error = "no rollup data for tier " + t.Name + " yet"
		return res, nil
	}
	res.Success = true
	res.Data = f.rows
	res.Count = len(f.rows)
	return res, nil
}

var exportNow = time.Date(2025, 11, 19, 12, 0, 0, 0, time.UTC)

func newTestExporter(reader *fakeReader) *Exporter {
	e := NewExporter(reader)
	e.now = func() time.Time { return exportNow }
	return e
}

func sampleRows() []rawlog.Record {
	return []rawlog.Record{
		{"timestamp": float64(1763550000), "latency_avg": 12.5, "quality": "good"},
		{"timestamp": float64(1763550300), "latency_avg": 40.0, "hosts": map[string]any{"gw": 3.0}},
	}
}

func TestExportToJSON(t *testing.T) {
	reader := &fakeReader{registry: tier.Default(), rows: sampleRows()}
	buf := &bytes.Buffer{}

	result, err := newTestExporter(reader).ExportToJSON(context.Background(), buf, ExportOptions{
		Source: "ping",
		Tier:   "5min",
		Start:  exportNow.Add(-time.Hour),
		End:    exportNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsExported)
	assert.Equal(t, "5min", result.Tier)

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "json", doc.Metadata.Format)
	assert.Equal(t, "ping", doc.Metadata.Source)
	assert.Equal(t, 2, doc.Metadata.RowCount)
	require.Len(t, doc.Rows, 2)
	assert.Equal(t, 12.5, doc.Rows[0]["latency_avg"])
}

func TestExportToCSV(t *testing.T) {
	reader := &fakeReader{registry: tier.Default(), rows: sampleRows()}
	buf := &bytes.Buffer{}

	result, err := newTestExporter(reader).ExportToCSV(context.Background(), buf, ExportOptions{
		Source: "ping",
		Tier:   "5min",
		Start:  exportNow.Add(-time.Hour),
		End:    exportNow,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsExported)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"timestamp", "time", "hosts", "latency_avg", "quality"}, records[0])
	assert.Equal(t, []string{"1763550000", "2025-11-19T11:00:00Z", "", "12.5", "good"}, records[1])
	assert.Equal(t, `{"gw":3}`, records[2][2])
}

func TestExport_DefaultTierFollowsWindow(t *testing.T) {
	reader := &fakeReader{registry: tier.Default(), rows: sampleRows()}

	_, err := newTestExporter(reader).Export(context.Background(), &bytes.Buffer{}, ExportOptions{Source: "ping"})
	require.NoError(t, err)

	assert.Equal(t, "5min", reader.gotTier, "24h window")
	assert.Equal(t, exportNow.Unix(), reader.gotEnd)
	assert.Equal(t, exportNow.Add(-24*time.Hour).Unix(), reader.gotStart)
}

func TestExport_NoData(t *testing.T) {
	reader := &fakeReader{registry: tier.Default(), noData: true}
	buf := &bytes.Buffer{}

	_, err := newTestExporter(reader).ExportToJSON(context.Background(), buf, ExportOptions{Source: "ping", Tier: "1min"})
	require.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, buf.Len())
}

func serveExport(h *Handler, target string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc("/v1/sources/{source}/export", h.HandleExport)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHandleExport(t *testing.T) {
	tests := []struct {
		name       string
		reader     *fakeReader
		target     string
		wantStatus int
		wantType   string
	}{
		{
			name:       "csv download",
			reader:     &fakeReader{rows: sampleRows()},
			target:     "/v1/sources/ping/export?format=csv&tier=5min",
			wantStatus: http.StatusOK,
			wantType:   "text/csv",
		},
		{
			name:       "json is the default",
			reader:     &fakeReader{rows: sampleRows()},
			target:     "/v1/sources/ping/export",
			wantStatus: http.StatusOK,
			wantType:   "application/json",
		},
		{
			name:       "invalid format",
			reader:     &fakeReader{},
			target:     "/v1/sources/ping/export?format=xml",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "start after end",
			reader:     &fakeReader{},
			target:     "/v1/sources/ping/export?start=2025-11-19T00:00:00Z&end=2025-11-18T00:00:00Z",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "window too large",
			reader:     &fakeReader{},
			target:     "/v1/sources/ping/export?start=2025-01-01T00:00:00Z&end=2025-11-18T00:00:00Z",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no data yet",
			reader:     &fakeReader{noData: true},
			target:     "/v1/sources/ping/export?tier=1min",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown source",
			reader:     &fakeReader{},
			target:     "/v1/sources/nope/export",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown tier",
			reader:     &fakeReader{},
			target:     "/v1/sources/ping/export?tier=1week",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.reader.registry = tier.Default()
			h := NewHandler(tt.reader)
			h.exporter.now = func() time.Time { return exportNow }

			rr := serveExport(h, tt.target)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, rr.Header().Get("Content-Type"))
				assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment; filename=ping-")
			}
		})
	}
}

func TestHandleExport_NoDataBody(t *testing.T) {
	h := NewHandler(&fakeReader{registry: tier.Default(), noData: true})
	rr := serveExport(h, "/v1/sources/ping/export?tier=1min")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
}
