package server

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/server/monitor"
	"github.com/nicktill/tinywatch/pkg/storage/badger"
)

// RetryPolicy controls how a failed scheduled rollup pass is retried
// before giving up until the next tick.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: config.RollupRetryAttempts,
	Delay:    config.RollupRetryDelay,
}

// RollupOnce runs one scheduled pass over every source, retrying failures
// with exponential backoff. Tiers that already succeeded are throttled on
// the retries, so only the failed work is repeated.
func RollupOnce(ctx context.Context, p *pipeline.Pipeline, m *monitor.RollupMonitor, policy RetryPolicy) ([]rollup.Result, error) {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	var all []rollup.Result
	start := time.Now()

	err := retry.Do(
		func() error {
			results, err := p.RunRollups(ctx, false)
			all = append(all, results...)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Rollup failed (attempt %d/%d), retrying", n+1, policy.Attempts)
		}),
	)

	if m != nil {
		m.Record(all, err)
		if n := m.ConsecutiveErrors(); n > 3 {
			log.Errorf("ALERT: rollups have been failing! Consecutive errors: %d", n)
		}
	}
	if err != nil {
		log.WithError(err).Errorf("Rollup failed after %d attempts, will retry on next schedule", policy.Attempts)
		return all, err
	}

	rows := 0
	for _, r := range all {
		rows += len(r.Rows)
	}
	if rows > 0 {
		log.Debugf("Rollup appended %d rows in %v", rows, time.Since(start).Round(time.Millisecond))
	}
	return all, nil
}

// RunRollups runs RollupOnce now and then on every tick until ctx is done.
func RunRollups(ctx context.Context, p *pipeline.Pipeline, m *monitor.RollupMonitor, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("Rollup scheduler started (runs every %v)", interval)
	RollupOnce(ctx, p, m, DefaultRetryPolicy)

	for {
		select {
		case <-ticker.C:
			RollupOnce(ctx, p, m, DefaultRetryPolicy)
		case <-ctx.Done():
			log.Info("Stopping rollup scheduler")
			return
		}
	}
}

// RotateOnce applies raw retention to every source and logs what was
// purged.
func RotateOnce(ctx context.Context, p *pipeline.Pipeline, storageMonitor *monitor.StorageMonitor) {
	results, err := p.RotateRaw(ctx)
	for source, res := range results {
		if res.Purged > 0 {
			log.WithField("source", source).Infof("Rotated raw log: purged %d, kept %d", res.Purged, res.Kept)
		}
	}
	if err != nil {
		log.WithError(err).Error("Raw rotation failed")
	}
	if storageMonitor != nil {
		storageMonitor.Invalidate()
	}
}

// RunRotation rotates raw logs on every tick until ctx is done.
func RunRotation(ctx context.Context, p *pipeline.Pipeline, storageMonitor *monitor.StorageMonitor, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("Raw rotation scheduler started (runs every %v)", interval)
	for {
		select {
		case <-ticker.C:
			RotateOnce(ctx, p, storageMonitor)
		case <-ctx.Done():
			log.Info("Stopping raw rotation scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk
// space. Checkpoint keys are overwritten every minute, so the value log
// accumulates stale versions quickly.
func RunBadgerGC(ctx context.Context, store *badger.Storage, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a value log file once half of it is garbage
			if err := store.RunGC(0.5); err != nil {
				log.Debugf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Debugf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Info("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
