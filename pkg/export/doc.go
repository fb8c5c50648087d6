// Package export writes rollup rows of one source and tier as JSON or CSV
// downloads.
//
// # Formats
//
// JSON wraps the rows with export metadata:
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-11-19T03:00:00Z",
//	    "source": "ping",
//	    "tier": "5min",
//	    "start_time": "2025-11-18T03:00:00Z",
//	    "end_time": "2025-11-19T03:00:00Z",
//	    "row_count": 288,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "rows": [{"timestamp": 1763434950, "latency_avg": 12.4, ...}]
//	}
//
// CSV flattens rows into a spreadsheet: "timestamp" and "time" first, then
// every other field present in the data in sorted order. Nested values such
// as per-host counts are written as JSON.
//
// # HTTP API
//
//	GET /v1/sources/{source}/export?format=csv&tier=5min&start=...&end=...
//
// start and end are RFC3339 and default to the last 24 hours. tier defaults
// to the tier best suited to the window. The window may not exceed 30 days.
package export
