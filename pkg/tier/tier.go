// Package tier describes the rollup resolutions: how wide each tier's buckets
// are, how long its rollup log is kept, and which tier serves a lookback
// window of a given size.
package tier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrUnknownTier is returned when a tier name is not in the registry.
var ErrUnknownTier = errors.New("unknown tier")

// Tier is one rollup resolution.
type Tier struct {
	// Name identifies the tier in state documents and file names ("1min").
	Name string

	// Interval is the bucket width. Buckets are aligned to the Unix epoch.
	Interval time.Duration

	// Retention is how long rows stay in the tier's rollup log.
	Retention time.Duration

	// Label is a human description of the tier.
	Label string

	// Compressed tiers store their rollup log gzip-compressed.
	Compressed bool

	// MaxHours is the largest lookback window, in hours, this tier is picked
	// for. The coarsest tier ignores it and takes everything larger.
	MaxHours float64
}

// IntervalSeconds is Interval in whole seconds.
func (t Tier) IntervalSeconds() int64 {
	return int64(t.Interval / time.Second)
}

// RetentionSeconds is Retention in whole seconds.
func (t Tier) RetentionSeconds() int64 {
	return int64(t.Retention / time.Second)
}

// BucketStart is the start of the bucket holding ts.
func (t Tier) BucketStart(ts int64) int64 {
	iv := t.IntervalSeconds()
	start := ts / iv * iv
	if ts < 0 && ts%iv != 0 {
		start -= iv
	}
	return start
}

// Registry is an immutable, ordered set of tiers, finest first.
type Registry struct {
	tiers  []Tier
	byName map[string]int
}

// NewRegistry validates tiers and orders them finest first. Intervals and
// MaxHours must both strictly increase from finest to coarsest, which makes
// BestForHours monotone.
func NewRegistry(tiers ...Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, errors.New("registry needs at least one tier")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Interval < sorted[j].Interval })

	r := &Registry{tiers: sorted, byName: make(map[string]int, len(sorted))}
	for i, t := range sorted {
		if t.Name == "" {
			return nil, fmt.Errorf("tier %d has no name", i)
		}
		if t.Interval < time.Second || t.Interval%time.Second != 0 {
			return nil, fmt.Errorf("tier %s: interval must be a whole number of seconds", t.Name)
		}
		if t.Retention < t.Interval {
			return nil, fmt.Errorf("tier %s: retention %s shorter than interval %s", t.Name, t.Retention, t.Interval)
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %s", t.Name)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Interval == t.Interval {
				return nil, fmt.Errorf("tiers %s and %s share interval %s", prev.Name, t.Name, t.Interval)
			}
			if i < len(sorted)-1 && t.MaxHours <= prev.MaxHours {
				return nil, fmt.Errorf("tier %s: max hours %.0f not above %s's %.0f", t.Name, t.MaxHours, prev.Name, prev.MaxHours)
			}
		}
		r.byName[t.Name] = i
	}
	return r, nil
}

// Default returns the standard four tiers:
//
//	1min   60s buckets,  6h retention,  windows up to 6h
//	5min   5m buckets,   48h retention, windows up to 48h
//	30min  30m buckets,  14d retention, windows up to 14d, gzip
//	2hour  2h buckets,   90d retention, anything longer, gzip
func Default() *Registry {
	r, err := NewRegistry(
		Tier{Name: "1min", Interval: time.Minute, Retention: 6 * time.Hour, Label: "1-minute averages", MaxHours: 6},
		Tier{Name: "5min", Interval: 5 * time.Minute, Retention: 48 * time.Hour, Label: "5-minute averages", MaxHours: 48},
		Tier{Name: "30min", Interval: 30 * time.Minute, Retention: 14 * 24 * time.Hour, Label: "30-minute averages", Compressed: true, MaxHours: 14 * 24},
		Tier{Name: "2hour", Interval: 2 * time.Hour, Retention: 90 * 24 * time.Hour, Label: "2-hour averages", Compressed: true, MaxHours: math.Inf(1)},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Tiers returns the tiers finest first.
func (r *Registry) Tiers() []Tier {
	out := make([]Tier, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// Names returns the tier names finest first.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tiers))
	for i, t := range r.tiers {
		names[i] = t.Name
	}
	return names
}

// Get looks a tier up by name.
func (r *Registry) Get(name string) (Tier, error) {
	i, ok := r.byName[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return r.tiers[i], nil
}

// BestForHours picks the finest tier whose MaxHours covers a lookback of
// hours; anything beyond every limit goes to the coarsest tier.
func (r *Registry) BestForHours(hours float64) Tier {
	for _, t := range r.tiers[:len(r.tiers)-1] {
		if hours <= t.MaxHours {
			return t
		}
	}
	return r.tiers[len(r.tiers)-1]
}

// RollupPath is the rollup log of t inside dir: <dir>/<name>.log, with a .gz
// suffix for compressed tiers.
func RollupPath(dir string, t Tier) string {
	name := t.Name + ".log"
	if t.Compressed {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// Info describes one tier for display.
type Info struct {
	Name             string `json:"name"`
	Label            string `json:"label"`
	Interval         string `json:"interval"`
	IntervalSeconds  int64  `json:"interval_seconds"`
	Retention        string `json:"retention"`
	RetentionSeconds int64  `json:"retention_seconds"`
	Compressed       bool   `json:"compressed"`
	Path             string `json:"path,omitempty"`
	FileExists       bool   `json:"file_exists"`
	FileSize         int64  `json:"file_size"`
}

// Info reports every tier, finest first. pathFn, when set, resolves a tier's
// rollup log so the file's existence and size can be included.
func (r *Registry) Info(pathFn func(Tier) string) []Info {
	out := make([]Info, 0, len(r.tiers))
	for _, t := range r.tiers {
		info := Info{
			Name:             t.Name,
			Label:            t.Label,
			Interval:         FormatInterval(t.Interval),
			IntervalSeconds:  t.IntervalSeconds(),
			Retention:        FormatDuration(t.Retention),
			RetentionSeconds: t.RetentionSeconds(),
			Compressed:       t.Compressed,
		}
		if pathFn != nil {
			info.Path = pathFn(t)
			if fi, err := os.Stat(info.Path); err == nil {
				info.FileExists = true
				info.FileSize = fi.Size()
			}
		}
		out = append(out, info)
	}
	return out
}
