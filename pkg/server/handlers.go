package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinywatch/pkg/api"
	"github.com/nicktill/tinywatch/pkg/export"
	"github.com/nicktill/tinywatch/pkg/httpx"
	"github.com/nicktill/tinywatch/pkg/server/monitor"
)

// Version is reported by the health endpoint.
var Version = "dev"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64            `json:"used_bytes"`
	MaxBytes  int64            `json:"max_bytes"`
	BySource  map[string]int64 `json:"by_source"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Rollups monitor.RollupStatus `json:"rollups"`
}

// handleHealth returns service health status.
func handleHealth(rollupMonitor *monitor.RollupMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := rollupMonitor.Status()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !status.Healthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Rollups: status,
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := storageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		bySource, err := storageMonitor.UsageBySource()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  storageMonitor.GetLimit(),
			BySource:  bySource,
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	apiHandler *api.Handler,
	exportHandler *export.Handler,
	storageMonitor *monitor.StorageMonitor,
	rollupMonitor *monitor.RollupMonitor,
	gatherer prometheus.Gatherer,
	listen string,
) {
	// CORS middleware for API access
	router.Use(corsMiddleware(listenPort(listen)))

	v1 := router.PathPrefix("/v1").Subrouter()
	apiHandler.Register(v1)
	v1.HandleFunc("/sources/{source}/export", exportHandler.HandleExport).Methods(http.MethodGet)
	v1.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods(http.MethodGet)
	v1.HandleFunc("/health", handleHealth(rollupMonitor)).Methods(http.MethodGet)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func listenPort(listen string) string {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	return port
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Only set CORS headers for allowed origins
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
