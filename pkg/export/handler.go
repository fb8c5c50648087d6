package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/httpx"
	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/tier"
)

const (
	// DefaultExportWindow is the default time range for exports (last 24 hours)
	DefaultExportWindow = config.DefaultExportWindow

	// MaxExportWindow is the maximum allowed export time range (30 days)
	MaxExportWindow = config.MaxExportWindow
)

// Handler handles export HTTP endpoints
type Handler struct {
	exporter *Exporter
}

// NewHandler creates a new export handler
func NewHandler(reader Reader) *Handler {
	return &Handler{exporter: NewExporter(reader)}
}

// HandleExport handles GET /v1/sources/{source}/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - tier: tier name (default: best for the window)
//   - start: RFC3339 timestamp (default: 24h ago)
//   - end: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	end := parseTimeParam(query.Get("end"), h.exporter.now())
	start := parseTimeParam(query.Get("start"), end.Add(-DefaultExportWindow))

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("Time range too large. Maximum is %v", MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Source: source,
		Tier:   query.Get("tier"),
		Start:  start,
		End:    end,
		Format: format,
	}

	// Rendered into a buffer so a failed read can still answer with a
	// proper status.
	buf := &bytes.Buffer{}
	result, err := h.exporter.Export(r.Context(), buf, opts)
	switch {
	case errors.Is(err, ErrNoData):
		httpx.RespondJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrUnknownSource), errors.Is(err, tier.ErrUnknownTier):
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	case err != nil:
		log.WithError(err).WithField("source", source).Error("Export failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	timestamp := h.exporter.now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s-%s-%s.%s", source, result.Tier, timestamp, format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Warn("Failed to write export response")
		return
	}

	log.Debugf("Exported %d %s rows of %s (%s) from %s", result.RowsExported, result.Tier, source, format, result.TimeRange)
}

// parseTimeParam parses a time parameter or returns default
func parseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}

	// Try RFC3339 format
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}

	// Try simple datetime format
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t
	}

	// Return default if parsing fails
	return defaultTime
}
