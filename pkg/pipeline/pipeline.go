// Package pipeline wires sources to the raw log, the rollup processor and the
// checkpoint backend.
//
// Every source owns a directory under the data directory:
//
//	<data_dir>/<source>/raw.log             raw samples
//	<data_dir>/<source>/rollup-state.json   checkpoints (file backend)
//	<data_dir>/<source>/1min.log            rollup logs, one per tier
//	<data_dir>/<source>/30min.log.gz
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/storage"
	"github.com/nicktill/tinywatch/pkg/storage/file"
	"github.com/nicktill/tinywatch/pkg/tier"
)

// RawFileName is the raw log inside a source directory.
const RawFileName = "raw.log"

// DefaultRawRetention keeps raw samples a little longer than the coarsest
// default bucket needs.
const DefaultRawRetention = 25 * time.Hour

// ErrUnknownSource is returned for a source name that is not configured.
var ErrUnknownSource = errors.New("unknown source")

var sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Source is one metric stream with its own raw log, tiers and checkpoints.
type Source struct {
	Name       string
	Kind       string
	Aggregator rollup.Aggregator

	// RawRetention is how long raw samples survive rotation. It must cover
	// the coarsest tier's interval plus the safety margin, or buckets lose
	// samples before they close.
	RawRetention time.Duration
}

// Listener is told about every tier run that appended rows.
type Listener func(res rollup.Result)

// Config configures a Pipeline.
type Config struct {
	// DataDir holds one directory per source.
	DataDir string

	// Backend stores checkpoints. Defaults to JSON files in the source
	// directories.
	Backend storage.Backend

	// Rollup configures the processor.
	Rollup rollup.Config

	// Concurrency bounds how many sources RunRollups processes at once.
	Concurrency int

	// Registerer receives the prometheus instruments. Nil skips
	// registration.
	Registerer prometheus.Registerer
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	dataDir     string
	backend     storage.Backend
	proc        *rollup.Processor
	raw         *rawlog.Store
	now         func() time.Time
	concurrency int
	metrics     *metrics

	sources map[string]Source

	mu        sync.RWMutex
	listeners []Listener
}

// New validates sources and builds a Pipeline.
func New(cfg Config, sources ...Source) (*Pipeline, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("data directory required")
	}
	if cfg.Backend == nil {
		cfg.Backend = file.NewBackend(cfg.DataDir)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Rollup.Now == nil {
		cfg.Rollup.Now = time.Now
	}

	p := &Pipeline{
		dataDir:     cfg.DataDir,
		backend:     cfg.Backend,
		proc:        rollup.New(cfg.Rollup),
		raw:         rawlog.New(rawlog.Config{Now: cfg.Rollup.Now}),
		now:         cfg.Rollup.Now,
		concurrency: cfg.Concurrency,
		metrics:     newMetrics(),
		sources:     make(map[string]Source, len(sources)),
	}

	for _, src := range sources {
		if !sourceNamePattern.MatchString(src.Name) {
			return nil, fmt.Errorf("invalid source name %q", src.Name)
		}
		if _, dup := p.sources[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		if src.Aggregator == nil {
			return nil, fmt.Errorf("source %q has no aggregator", src.Name)
		}
		if src.RawRetention <= 0 {
			src.RawRetention = DefaultRawRetention
		}
		p.sources[src.Name] = src
	}

	if cfg.Registerer != nil {
		if err := p.metrics.register(cfg.Registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return p, nil
}

// Registry is the tier set.
func (p *Pipeline) Registry() *tier.Registry {
	return p.proc.Registry()
}

// Sources lists the configured sources by name.
func (p *Pipeline) Sources() []Source {
	out := make([]Source, 0, len(p.sources))
	for _, s := range p.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Source looks a source up.
func (p *Pipeline) Source(name string) (Source, error) {
	s, ok := p.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return s, nil
}

// SourceDir is the directory of source.
func (p *Pipeline) SourceDir(source string) string {
	return filepath.Join(p.dataDir, source)
}

// RawPath is the raw log of source.
func (p *Pipeline) RawPath(source string) string {
	return filepath.Join(p.SourceDir(source), RawFileName)
}

// RollupPath is the rollup log of source for t.
func (p *Pipeline) RollupPath(source string, t tier.Tier) string {
	return tier.RollupPath(p.SourceDir(source), t)
}

// Checkpoints returns the checkpoint store of source.
func (p *Pipeline) Checkpoints(source string) storage.Checkpoints {
	return p.backend.Checkpoints(source)
}

// OnRollup registers l for tier runs that appended rows.
func (p *Pipeline) OnRollup(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Pipeline) notify(res rollup.Result) {
	if len(res.Rows) == 0 {
		return
	}
	p.mu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, l := range listeners {
		l(res)
	}
}

func (p *Pipeline) job(src Source) rollup.Job {
	return rollup.Job{
		Source:      src.Name,
		RawPath:     p.RawPath(src.Name),
		Checkpoints: p.backend.Checkpoints(src.Name),
		RollupPath:  func(t tier.Tier) string { return p.RollupPath(src.Name, t) },
		Aggregator:  src.Aggregator,
	}
}

// Write appends records to the raw log of source as one batch.
func (p *Pipeline) Write(ctx context.Context, source string, records []rawlog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.Source(source); err != nil {
		return err
	}
	if err := p.raw.WriteBatch(p.RawPath(source), records); err != nil {
		p.metrics.writeErrors.WithLabelValues(source).Inc()
		return err
	}
	p.metrics.samplesWritten.WithLabelValues(source).Add(float64(len(records)))
	return nil
}

// RunSource runs every tier of one source.
func (p *Pipeline) RunSource(ctx context.Context, source string, force bool) ([]rollup.Result, error) {
	src, err := p.Source(source)
	if err != nil {
		return nil, err
	}

	results, err := p.proc.ProcessAll(ctx, p.job(src), rollup.ProcessOptions{Force: force})
	for _, res := range results {
		p.metrics.observeRollup(res)
		p.notify(res)
	}
	if err != nil {
		p.metrics.rollupErrors.WithLabelValues(source).Inc()
	}
	return results, err
}

// RunRollups runs every tier of every source. Sources are independent and
// run concurrently; a failing source does not stop the others.
func (p *Pipeline) RunRollups(ctx context.Context, force bool) ([]rollup.Result, error) {
	var (
		mu      sync.Mutex
		results []rollup.Result
		errs    *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, src := range p.Sources() {
		name := src.Name
		g.Go(func() error {
			res, err := p.RunSource(gctx, name, force)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res...)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	return results, errs.ErrorOrNil()
}

// RotateRaw applies each source's raw retention.
func (p *Pipeline) RotateRaw(ctx context.Context) (map[string]rawlog.RotateResult, error) {
	out := make(map[string]rawlog.RotateResult, len(p.sources))
	var errs *multierror.Error

	for _, src := range p.Sources() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := p.raw.Rotate(p.RawPath(src.Name), src.RawRetention)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		out[src.Name] = res
		p.metrics.rawPurged.WithLabelValues(src.Name).Add(float64(res.Purged))
		p.metrics.rawKept.WithLabelValues(src.Name).Set(float64(res.Kept))
	}
	return out, errs.ErrorOrNil()
}

// Query returns the last hours of source from the tier best suited to that
// window.
func (p *Pipeline) Query(ctx context.Context, source string, hours float64) (*rollup.ReadResult, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("hours must be positive, got %v", hours)
	}
	t := p.Registry().BestForHours(hours)
	end := p.now()
	start := end.Add(-time.Duration(hours * float64(time.Hour)))
	return p.QueryTier(ctx, source, t.Name, start.Unix(), end.Unix(), nil)
}

// QueryTier reads [start, end] from one tier of source. Zero bounds default
// to the tier's retention window.
func (p *Pipeline) QueryTier(ctx context.Context, source, tierName string, start, end int64, filter func(rawlog.Record) bool) (*rollup.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := p.Source(source); err != nil {
		return nil, err
	}
	t, err := p.Registry().Get(tierName)
	if err != nil {
		return nil, err
	}
	return p.proc.Read(p.RollupPath(source, t), t, start, end, filter)
}

// TiersInfo describes the tiers of source with their rollup log files.
func (p *Pipeline) TiersInfo(source string) ([]tier.Info, error) {
	if _, err := p.Source(source); err != nil {
		return nil, err
	}
	return p.Registry().Info(func(t tier.Tier) string { return p.RollupPath(source, t) }), nil
}

// ResetTier forgets the checkpoint of one tier of source.
func (p *Pipeline) ResetTier(ctx context.Context, source, tierName string) error {
	if _, err := p.Source(source); err != nil {
		return err
	}
	if _, err := p.Registry().Get(tierName); err != nil {
		return err
	}
	log.WithFields(log.Fields{"source": source, "tier": tierName}).Info("Resetting rollup checkpoint")
	return rollup.ResetTier(ctx, p.backend.Checkpoints(source), tierName)
}

// DiskUsage sums the size of every file under the data directory.
func (p *Pipeline) DiskUsage() (int64, error) {
	var total int64
	err := filepath.Walk(p.dataDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Close releases the checkpoint backend.
func (p *Pipeline) Close() error {
	return p.backend.Close()
}
