package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/storage"
	"github.com/nicktill/tinywatch/pkg/tier"
)

const (
	// DefaultSafetyMargin is how long after its end a bucket is still
	// considered open.
	DefaultSafetyMargin = 2 * time.Minute

	// DefaultPruneThreshold is the size a plain rollup log must exceed
	// before it is pruned past retention.
	DefaultPruneThreshold = 1 << 20

	// DefaultCompressedPruneThreshold is the same for gzip logs.
	DefaultCompressedPruneThreshold = 100 << 10
)

// Config configures a Processor.
type Config struct {
	// Registry lists the tiers ProcessAll runs. Defaults to tier.Default().
	Registry *tier.Registry

	// SafetyMargin delays closing a bucket past its end.
	SafetyMargin time.Duration

	// PruneThreshold and CompressedPruneThreshold are the log sizes, in
	// bytes, above which rows past retention are pruned.
	PruneThreshold           int64
	CompressedPruneThreshold int64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Job names everything a run needs for one source.
type Job struct {
	// Source labels log lines.
	Source string

	// RawPath is the raw log to read.
	RawPath string

	// Checkpoints persists the tier states.
	Checkpoints storage.Checkpoints

	// RollupPath resolves a tier's rollup log.
	RollupPath func(tier.Tier) string

	// Aggregator reduces each closed bucket.
	Aggregator Aggregator
}

func (j Job) validate() error {
	switch {
	case j.RawPath == "":
		return fmt.Errorf("rollup job %q: raw path required", j.Source)
	case j.Checkpoints == nil:
		return fmt.Errorf("rollup job %q: checkpoints required", j.Source)
	case j.RollupPath == nil:
		return fmt.Errorf("rollup job %q: rollup path resolver required", j.Source)
	case j.Aggregator == nil:
		return fmt.Errorf("rollup job %q: aggregator required", j.Source)
	}
	return nil
}

// ProcessOptions tunes a run.
type ProcessOptions struct {
	// Force ignores the per-tier throttle.
	Force bool
}

// Result reports one tier run.
type Result struct {
	Source string `json:"source"`
	Tier   string `json:"tier"`

	// Throttled is true when the tier ran less than one interval ago and
	// nothing was done.
	Throttled bool `json:"throttled"`

	Buckets int `json:"buckets"`
	Empty   int `json:"empty"`
	Pending int `json:"pending"`
	Pruned  int `json:"pruned"`

	// Rows are the rows appended to the rollup log.
	Rows []rawlog.Record `json:"-"`

	State    storage.TierState `json:"state"`
	Duration time.Duration     `json:"duration"`
}

// Processor runs rollups. It keeps no state between calls; everything that
// persists goes through a Job's Checkpoints.
type Processor struct {
	cfg Config
	raw *rawlog.Store
}

// New creates a Processor.
func New(cfg Config) *Processor {
	if cfg.Registry == nil {
		cfg.Registry = tier.Default()
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = DefaultPruneThreshold
	}
	if cfg.CompressedPruneThreshold <= 0 {
		cfg.CompressedPruneThreshold = DefaultCompressedPruneThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		cfg: cfg,
		raw: rawlog.New(rawlog.Config{Now: cfg.Now}),
	}
}

// Registry is the tier set the processor runs.
func (p *Processor) Registry() *tier.Registry {
	return p.cfg.Registry
}

// ProcessTier runs one tier for job: load checkpoint, throttle, read raw
// records since the checkpoint, aggregate closed buckets, append rows, save
// the checkpoint, then prune the rollup log past retention if it has grown
// large.
//
// Rows are appended before the checkpoint is saved. If saving fails the
// rows of this pass may be appended again on the next run.
func (p *Processor) ProcessTier(ctx context.Context, t tier.Tier, job Job, opts ProcessOptions) (Result, error) {
	res := Result{Source: job.Source, Tier: t.Name}
	if err := job.validate(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	began := time.Now()
	now := p.cfg.Now()
	logger := log.WithFields(log.Fields{"source": job.Source, "tier": t.Name})

	state, err := job.Checkpoints.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load checkpoints: %w", err)
	}
	current := state.Tier(t.Name)
	res.State = current

	if !opts.Force && now.Unix()-current.LastRollup < t.IntervalSeconds() {
		res.Throttled = true
		return res, nil
	}

	records, err := p.raw.Read(job.RawPath, rawlog.ReadOptions{Since: current.LastProcessed, Sort: true})
	if err != nil {
		return res, fmt.Errorf("failed to read raw log: %w", err)
	}

	step := Step(current, t, records, job.Aggregator, now, p.cfg.SafetyMargin)
	res.Buckets = step.Buckets
	res.Empty = step.Empty
	res.Pending = step.Pending

	path := job.RollupPath(t)
	if err := appendRows(path, t.Compressed, step.Rows); err != nil {
		return res, err
	}
	res.Rows = step.Rows

	state.Set(t.Name, step.State)
	if err := job.Checkpoints.Save(ctx, state); err != nil {
		return res, fmt.Errorf("failed to save checkpoints: %w", err)
	}
	res.State = step.State

	threshold := p.cfg.PruneThreshold
	if t.Compressed {
		threshold = p.cfg.CompressedPruneThreshold
	}
	cutoff := now.Add(-t.Retention).Unix()
	pruned, err := pruneRows(path, t.Compressed, cutoff, threshold)
	if err != nil {
		// Pruning is housekeeping; the rollup itself succeeded.
		logger.WithError(err).Warn("Failed to prune rollup log")
	}
	res.Pruned = pruned
	res.Duration = time.Since(began)

	if res.Buckets > 0 || pruned > 0 {
		logger.WithFields(log.Fields{
			"buckets": res.Buckets,
			"rows":    len(res.Rows),
			"empty":   res.Empty,
			"pruned":  pruned,
		}).Debug("Rollup pass complete")
	}
	return res, nil
}

// ProcessAll runs every tier of the registry, finest first. A failing tier
// does not stop the others; their errors are combined.
func (p *Processor) ProcessAll(ctx context.Context, job Job, opts ProcessOptions) ([]Result, error) {
	var (
		results []Result
		errs    *multierror.Error
	)
	for _, t := range p.cfg.Registry.Tiers() {
		res, err := p.ProcessTier(ctx, t, job, opts)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s/%s: %w", job.Source, t.Name, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs.ErrorOrNil()
}

// ResetTier forgets the checkpoint of tierName. Its next run re-reads the
// raw log from the start. Rows already in the rollup log are kept.
func ResetTier(ctx context.Context, cp storage.Checkpoints, tierName string) error {
	state, err := cp.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoints: %w", err)
	}
	state.Reset(tierName)
	if err := cp.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save checkpoints: %w", err)
	}
	return nil
}
