// Package server assembles the daemon: configuration, the pipeline and its
// checkpoint backend, HTTP handlers and the periodic tasks.
package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/nicktill/tinywatch/pkg/aggregate"
	"github.com/nicktill/tinywatch/pkg/api"
	"github.com/nicktill/tinywatch/pkg/collect"
	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/export"
	"github.com/nicktill/tinywatch/pkg/pipeline"
	"github.com/nicktill/tinywatch/pkg/rollup"
	"github.com/nicktill/tinywatch/pkg/server/monitor"
	"github.com/nicktill/tinywatch/pkg/storage"
	"github.com/nicktill/tinywatch/pkg/storage/badger"
	"github.com/nicktill/tinywatch/pkg/storage/file"
)

// EnvPrefix prefixes environment overrides: WATCHER_DATA_DIR and so on.
const EnvPrefix = "WATCHER"

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// SourceConfig configures one metric source.
type SourceConfig struct {
	Name         string        `mapstructure:"name"`
	Kind         string        `mapstructure:"kind"`
	Fields       []string      `mapstructure:"fields"`
	Key          string        `mapstructure:"key"`
	RawRetention time.Duration `mapstructure:"raw_retention"`
}

// Config holds server configuration.
type Config struct {
	DataDir           string         `mapstructure:"data_dir"`
	Listen            string         `mapstructure:"listen"`
	LogLevel          string         `mapstructure:"log_level"`
	SafetyMargin      time.Duration  `mapstructure:"safety_margin"`
	RollupInterval    time.Duration  `mapstructure:"rollup_interval"`
	RotationInterval  time.Duration  `mapstructure:"rotation_interval"`
	CheckpointBackend string         `mapstructure:"checkpoint_backend"`
	BadgerMaxMemoryMB int64          `mapstructure:"badger_max_memory_mb"`
	MaxStorageGB      int64          `mapstructure:"max_storage_gb"`
	LockDir           string         `mapstructure:"lock_dir"`
	SelfMetrics       bool           `mapstructure:"self_metrics"`
	Sources           []SourceConfig `mapstructure:"sources"`
}

// MaxStorageBytes is the storage limit in bytes, 0 when unlimited.
func (c Config) MaxStorageBytes() int64 {
	if c.MaxStorageGB <= 0 {
		return 0
	}
	return c.MaxStorageGB << 30
}

// SetDefaults registers every key with its default so environment
// overrides apply even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", config.DefaultDataDir)
	v.SetDefault("listen", config.DefaultListen)
	v.SetDefault("log_level", config.DefaultLogLevel)
	v.SetDefault("safety_margin", rollup.DefaultSafetyMargin)
	v.SetDefault("rollup_interval", config.RollupInterval)
	v.SetDefault("rotation_interval", config.RotationInterval)
	v.SetDefault("checkpoint_backend", config.DefaultBackend)
	v.SetDefault("badger_max_memory_mb", config.DefaultMaxMemoryMB)
	v.SetDefault("max_storage_gb", config.DefaultMaxStorageGB)
	v.SetDefault("lock_dir", "")
	v.SetDefault("self_metrics", false)
	v.SetDefault("sources", []map[string]any{})
}

// LoadConfig reads configFile (optional) and WATCHER_* environment
// variables into a validated Config.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.CheckpointBackend != BackendFile && c.CheckpointBackend != BackendBadger {
		return fmt.Errorf("checkpoint_backend must be %q or %q, got %q", BackendFile, BackendBadger, c.CheckpointBackend)
	}
	if c.RollupInterval <= 0 || c.RotationInterval <= 0 {
		return fmt.Errorf("rollup_interval and rotation_interval must be positive")
	}
	if c.SafetyMargin <= 0 {
		return fmt.Errorf("safety_margin must be positive, got %v", c.SafetyMargin)
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.SelfMetrics && seen[collect.RuntimeSource] {
		return fmt.Errorf("source %q is reserved for self_metrics", collect.RuntimeSource)
	}
	return nil
}

// ParseLogLevel applies level to the standard logger.
func ParseLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

// BuildSources turns source configuration into pipeline sources. The
// runtime source is appended when self metrics are enabled.
func BuildSources(cfg Config) ([]pipeline.Source, error) {
	out := make([]pipeline.Source, 0, len(cfg.Sources)+1)
	for _, sc := range cfg.Sources {
		agg, err := aggregate.FromKind(sc.Kind, sc.Fields, sc.Key)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		out = append(out, pipeline.Source{
			Name:         sc.Name,
			Kind:         sc.Kind,
			Aggregator:   agg,
			RawRetention: sc.RawRetention,
		})
	}
	if cfg.SelfMetrics {
		out = append(out, pipeline.Source{
			Name:       collect.RuntimeSource,
			Kind:       aggregate.KindGauge,
			Aggregator: aggregate.Gauge(collect.RuntimeFields...),
		})
	}
	return out, nil
}

// InitializeBackend opens the checkpoint backend. The badger store is also
// returned, nil for the file backend, so its GC can be scheduled.
func InitializeBackend(cfg Config) (storage.Backend, *badger.Storage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.CheckpointBackend != BackendBadger {
		log.Infof("Checkpoints stored as JSON files under %s", cfg.DataDir)
		return file.NewBackend(cfg.DataDir), nil, nil
	}

	path := filepath.Join(cfg.DataDir, ".checkpoints")
	store, err := badger.New(badger.Config{
		Path:        path,
		MaxMemoryMB: cfg.BadgerMaxMemoryMB,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Checkpoints stored in BadgerDB at %s", path)
	return store, store, nil
}

// InitializeLazyBackend defers InitializeBackend until a checkpoint is
// first loaded or saved. One-shot commands use it so that queries and
// rotations work while the daemon holds the badger directory lock.
func InitializeLazyBackend(cfg Config) storage.Backend {
	return storage.Lazy(func() (storage.Backend, error) {
		backend, _, err := InitializeBackend(cfg)
		return backend, err
	})
}

// InitializePipeline builds the pipeline over backend. Instruments are
// registered on reg when it is not nil.
func InitializePipeline(cfg Config, backend storage.Backend, reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	sources, err := BuildSources(cfg)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		DataDir:    cfg.DataDir,
		Backend:    backend,
		Rollup:     rollup.Config{SafetyMargin: cfg.SafetyMargin},
		Registerer: reg,
	}, sources...)
	if err != nil {
		return nil, err
	}
	log.Infof("Pipeline ready with %d sources and tiers %v", len(sources), p.Registry().Names())
	return p, nil
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(p *pipeline.Pipeline, storageMonitor *monitor.StorageMonitor) (*api.Handler, *export.Handler, *api.Hub) {
	hub := api.NewHub()
	apiHandler := api.NewHandler(p, hub)
	apiHandler.SetStorageChecker(storageMonitor)
	exportHandler := export.NewHandler(p)
	return apiHandler, exportHandler, hub
}
