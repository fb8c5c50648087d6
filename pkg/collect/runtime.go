package collect

import (
	"context"
	"runtime"
	"time"

	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// RuntimeSource is the source name the runtime collector writes to.
const RuntimeSource = "runtime"

// RuntimeFields are the numeric fields of a runtime sample.
var RuntimeFields = []string{
	"goroutines",
	"heap_bytes",
	"stack_bytes",
	"sys_bytes",
	"gc_count",
	"gc_pause_seconds",
}

// Adder receives samples. *Batcher is an Adder.
type Adder interface {
	Add(rawlog.Record)
}

// RuntimeCollector samples Go runtime statistics.
type RuntimeCollector struct {
	out      Adder
	interval time.Duration
	now      func() time.Time
}

// NewRuntimeCollector creates a collector sampling every interval (default
// 15s).
func NewRuntimeCollector(out Adder, interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RuntimeCollector{out: out, interval: interval, now: time.Now}
}

// Start samples until ctx is done.
func (c *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.out.Add(c.Sample())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.out.Add(c.Sample())
		}
	}
}

// Sample reads the runtime statistics once.
func (c *RuntimeCollector) Sample() rawlog.Record {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return rawlog.Record{
		rawlog.TimestampField: c.now().Unix(),
		"goroutines":          runtime.NumGoroutine(),
		"heap_bytes":          m.HeapAlloc,
		"stack_bytes":         m.StackInuse,
		"sys_bytes":           m.Sys,
		"gc_count":            m.NumGC,
		"gc_pause_seconds":    float64(m.PauseTotalNs) / 1e9,
	}
}
