// Package badger stores the rollup checkpoints of every source in one
// BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/storage"
)

// Storage is a BadgerDB holding checkpoints for any number of sources.
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = small defaults).
	// Checkpoint documents are tiny; 16-32 MB is plenty.
	MaxMemoryMB int64
}

// Stats describes the database.
type Stats struct {
	Sources   int    `json:"sources"`
	Entries   int    `json:"entries"`
	SizeBytes uint64 `json:"size_bytes"`
}

const (
	minMemTableSize = 1 << 20

	// valueThreshold keeps checkpoint values in the LSM tree. Badger requires
	// it to stay below 15% of the memtable, which its 1 MB default breaks for
	// small memory budgets.
	valueThreshold = 1 << 10
)

// New opens (or creates) the database.
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Checkpoints are a handful of small keys per source, so the memtable
	// only needs to be large enough to avoid constant flushes.
	memTableSize := int64(8 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	if memTableSize < minMemTableSize {
		memTableSize = minMemTableSize
	}

	// CRITICAL MEMORY LIMITS: block and index caches are unbounded otherwise
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(2).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(3).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2).
		WithValueThreshold(valueThreshold).
		WithValueLogFileSize(16 << 20) // 16 MB value log files instead of default 2GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Checkpoints returns the view of one source.
func (s *Storage) Checkpoints(source string) storage.Checkpoints {
	return &sourceCheckpoints{db: s.db, source: source, prefix: sourcePrefix(source)}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats counts stored sources and checkpoint entries.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &Stats{}
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			sources := make(map[uint64]struct{})
			for it.Rewind(); it.Valid(); it.Next() {
				key := it.Item().Key()
				if len(key) < 8 {
					continue
				}
				sources[binary.BigEndian.Uint64(key[:8])] = struct{}{}
				stats.Entries++
			}
			stats.Sources = len(sources)
			return nil
		})
		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// sourceCheckpoints implements storage.Checkpoints for one source.
type sourceCheckpoints struct {
	db     *badger.DB
	source string
	prefix []byte
}

// Load reads every tier entry under the source prefix. Entries that fail to
// decode are skipped so only that tier starts over.
func (c *sourceCheckpoints) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loadResult struct {
		state storage.State
		err   error
	}
	done := make(chan loadResult, 1)

	go func() {
		state := storage.State{}
		err := c.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = c.prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				tierName := string(item.Key()[len(c.prefix):])

				var ts storage.TierState
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &ts)
				})
				if err != nil {
					log.WithError(err).WithFields(log.Fields{"source": c.source, "tier": tierName}).
						Warn("Corrupted checkpoint entry, tier will be rebuilt")
					continue
				}
				state.Set(tierName, ts)
			}
			return nil
		})
		done <- loadResult{state: state, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to load checkpoints for %s: %w", c.source, res.err)
		}
		return res.state, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load operation cancelled: %w", ctx.Err())
	}
}

// Save replaces every tier entry of the source in one transaction.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (c *sourceCheckpoints) Save(ctx context.Context, state storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- c.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = c.prefix
			opts.PrefetchValues = false

			var stale [][]byte
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				key := it.Item().KeyCopy(nil)
				if _, keep := state[string(key[len(c.prefix):])]; !keep {
					stale = append(stale, key)
				}
			}
			it.Close()

			for _, key := range stale {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}

			for name, ts := range state {
				value, err := json.Marshal(ts)
				if err != nil {
					return fmt.Errorf("failed to encode checkpoint: %w", err)
				}
				if err := txn.Set(makeKey(c.prefix, name), value); err != nil {
					return fmt.Errorf("failed to write checkpoint: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to save checkpoints for %s: %w", c.source, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("save operation cancelled: %w", ctx.Err())
	}
}

// sourcePrefix is the 8-byte hash every key of source starts with.
// Format: [source_hash (8 bytes)][tier name]
func sourcePrefix(source string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(source))
	return prefix
}

func makeKey(prefix []byte, tierName string) []byte {
	key := make([]byte, 0, len(prefix)+len(tierName))
	key = append(key, prefix...)
	return append(key, tierName...)
}
