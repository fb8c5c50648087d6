// Package config holds the daemon's defaults.
package config

import "time"

// Server defaults
const (
	DefaultListen       = "127.0.0.1:8080"
	DefaultDataDir      = "./data/watcher"
	DefaultLogLevel     = "info"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultBackend      = "file"
)

// Scheduling
const (
	RollupInterval   = 1 * time.Minute
	RotationInterval = 1 * time.Hour
	BadgerGCInterval = 10 * time.Minute
	SelfMetricsEvery = 15 * time.Second
)

// Rollup retry policy for scheduled runs
const (
	RollupRetryAttempts = 3
	RollupRetryDelay    = 5 * time.Second
)

// HTTP timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second
	QueryTimeout       = 10 * time.Second
	IngestTimeout      = 5 * time.Second
)

// Query cache
const (
	QueryCacheTTL     = 30 * time.Second
	QueryCacheCleanup = 5 * time.Minute
)

// Export limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSClientBuffer    = 16
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
