package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/httpx"
	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// DefaultQueryHours is the window of a rollup query without parameters.
const DefaultQueryHours = 1.0

// Pipeline is what the handlers need from *pipeline.Pipeline.
type Pipeline interface {
	Sources() []pipeline.Source
	Registry() *tier.Registry
	TiersInfo(source string) ([]tier.Info, error)
	Query(ctx context.Context, source string, hours float64) (*rollup.ReadResult, error)
	QueryTier(ctx context.Context, source, tierName string, start, end int64, filter func(rawlog.Record) bool) (*rollup.ReadResult, error)
	Write(ctx context.Context, source string, records []rawlog.Record) error
	OnRollup(l pipeline.Listener)
}

// StorageChecker reports disk usage against a limit.
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler serves the pipeline over HTTP.
type Handler struct {
	pipeline Pipeline
	hub      *Hub
	cache    *queryCache
	storage  StorageChecker
	now      func() time.Time
}

// NewHandler creates a handler and subscribes it to rollup runs: every run
// that appends rows invalidates the source's cached queries and is streamed
// to websocket clients.
func NewHandler(p Pipeline, hub *Hub) *Handler {
	h := &Handler{
		pipeline: p,
		hub:      hub,
		cache:    newQueryCache(),
		now:      time.Now,
	}
	p.OnRollup(h.onRollup)
	return h
}

// SetStorageChecker makes sample ingestion refuse writes once usage reaches
// the limit.
func (h *Handler) SetStorageChecker(sc StorageChecker) {
	h.storage = sc
}

func (h *Handler) onRollup(res rollup.Result) {
	h.cache.invalidate(res.Source)
	if h.hub != nil && h.hub.HasClients() {
		if err := h.hub.Broadcast(newRollupUpdate(res, h.now())); err != nil {
			log.WithError(err).Warn("Failed to broadcast rollup")
		}
	}
}

// Register adds the routes to r, which is expected to be the /v1 subrouter.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sources", h.HandleSources).Methods(http.MethodGet)
	r.HandleFunc("/sources/{source}/tiers", h.HandleTiers).Methods(http.MethodGet)
	r.HandleFunc("/sources/{source}/rollups", h.HandleRollups).Methods(http.MethodGet)
	r.HandleFunc("/sources/{source}/samples", h.HandleSamples).Methods(http.MethodPost)
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.HandleWebSocket).Methods(http.MethodGet)
	}
}

// SourceInfo describes a configured source.
type SourceInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind,omitempty"`
	RawRetention string   `json:"raw_retention"`
	Tiers        []string `json:"tiers"`
}

// HandleSources handles GET /v1/sources
func (h *Handler) HandleSources(w http.ResponseWriter, r *http.Request) {
	names := h.pipeline.Registry().Names()
	sources := h.pipeline.Sources()

	out := make([]SourceInfo, 0, len(sources))
	for _, s := range sources {
		out = append(out, SourceInfo{
			Name:         s.Name,
			Kind:         s.Kind,
			RawRetention: s.RawRetention.String(),
			Tiers:        names,
		})
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// HandleTiers handles GET /v1/sources/{source}/tiers
func (h *Handler) HandleTiers(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	info, err := h.pipeline.TiersInfo(source)
	if err != nil {
		respondLookupError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"source": source, "tiers": info})
}

// HandleRollups handles GET /v1/sources/{source}/rollups
// Query params:
//   - hours: lookback window; picks the best tier (default 1)
//   - tier, start, end: explicit tier and epoch-second bounds instead
//   - field, value: keep rows whose field equals value
func (h *Handler) HandleRollups(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	query := r.URL.Query()

	if res, ok := h.cache.get(source, r.URL.RawQuery); ok {
		respondRollups(w, res)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	var (
		res *rollup.ReadResult
		err error
	)
	field, value := query.Get("field"), query.Get("value")

	if tierName := query.Get("tier"); tierName != "" {
		start, perr := parseEpoch(query.Get("start"))
		if perr != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start: "+perr.Error())
			return
		}
		end, perr := parseEpoch(query.Get("end"))
		if perr != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end: "+perr.Error())
			return
		}
		if start != 0 && end != 0 && start > end {
			httpx.RespondErrorString(w, http.StatusBadRequest, "start must not be after end")
			return
		}
		res, err = h.pipeline.QueryTier(ctx, source, tierName, start, end, fieldFilter(field, value))
	} else {
		hours := DefaultQueryHours
		if raw := query.Get("hours"); raw != "" {
			hours, err = strconv.ParseFloat(raw, 64)
			if err != nil || hours <= 0 {
				httpx.RespondErrorString(w, http.StatusBadRequest, "hours must be a positive number")
				return
			}
		}
		res, err = h.pipeline.Query(ctx, source, hours)
		if err == nil && field != "" {
			res = filterResult(res, fieldFilter(field, value))
		}
	}
	if err != nil {
		respondLookupError(w, err)
		return
	}

	if res.Success {
		h.cache.set(source, r.URL.RawQuery, res)
	}
	respondRollups(w, res)
}

func respondRollups(w http.ResponseWriter, res *rollup.ReadResult) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusNotFound
	}
	httpx.RespondJSON(w, status, res)
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Samples []rawlog.Record `json:"samples"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HandleSamples handles POST /v1/sources/{source}/samples
func (h *Handler) HandleSamples(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	var req IngestRequest
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Samples) == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "no samples")
		return
	}
	if len(req.Samples) > MaxSamplesPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, ErrTooManySamples)
		return
	}
	for i, s := range req.Samples {
		if err := ValidateSample(s); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid sample %d: %v", i, err))
			return
		}
	}

	if h.storage != nil {
		usage, err := h.storage.GetUsage()
		if err != nil {
			log.WithError(err).Warn("Failed to check storage usage")
		} else if limit := h.storage.GetLimit(); limit > 0 && usage >= limit {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached (%d of %d bytes)", usage, limit))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if err := h.pipeline.Write(ctx, source, req.Samples); err != nil {
		if errors.Is(err, pipeline.ErrUnknownSource) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		log.WithError(err).WithField("source", source).Error("Failed to write samples")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{Status: "success", Count: len(req.Samples)})
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrUnknownSource) || errors.Is(err, tier.ErrUnknownTier) {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}
	log.WithError(err).Error("Rollup query failed")
	httpx.RespondError(w, http.StatusInternalServerError, err)
}

func parseEpoch(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// fieldFilter keeps rows whose field prints as value. An empty field keeps
// everything.
func fieldFilter(field, value string) func(rawlog.Record) bool {
	if field == "" {
		return nil
	}
	return func(r rawlog.Record) bool {
		v, ok := r[field]
		return ok && fmt.Sprint(v) == value
	}
}

func filterResult(res *rollup.ReadResult, keep func(rawlog.Record) bool) *rollup.ReadResult {
	if !res.Success || keep == nil {
		return res
	}
	out := *res
	out.Data = make([]rawlog.Record, 0, len(res.Data))
	for _, r := range res.Data {
		if keep(r) {
			out.Data = append(out.Data, r)
		}
	}
	out.Count = len(out.Data)
	return &out
}
