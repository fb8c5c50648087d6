package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCacheDuration is how long a disk scan result is reused.
const DefaultCacheDuration = 10 * time.Second

// StorageMonitor tracks storage usage of the data directory with caching to
// avoid expensive filesystem walks on every ingest request.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cacheDuration time.Duration

	mu          sync.Mutex
	cachedUsage int64
	cachedBy    map[string]int64
	lastCheck   time.Time
}

// NewStorageMonitor creates a new storage monitor. maxBytes <= 0 means no
// limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: DefaultCacheDuration,
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.refreshLocked(); err != nil {
		return 0, err
	}
	return sm.cachedUsage, nil
}

// UsageBySource returns usage per top-level directory of the data directory,
// which is one directory per source. Loose files count under ".".
func (sm *StorageMonitor) UsageBySource() (map[string]int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.refreshLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(sm.cachedBy))
	for k, v := range sm.cachedBy {
		out[k] = v
	}
	return out, nil
}

// Invalidate forces the next call to rescan.
func (sm *StorageMonitor) Invalidate() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastCheck = time.Time{}
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

func (sm *StorageMonitor) refreshLocked() error {
	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return nil
	}

	total, bySource, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return err
	}
	sm.cachedUsage = total
	sm.cachedBy = bySource
	sm.lastCheck = time.Now()
	return nil
}

// calculateDirSize recursively calculates directory size in bytes, in total
// and per top-level entry. Uses actual disk usage (not logical size) to
// handle sparse files correctly.
func calculateDirSize(root string) (int64, map[string]int64, error) {
	var total int64
	bySource := make(map[string]int64)

	err := filepath.Walk(root, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		size, err := getActualFileSize(filePath, info)
		if err != nil {
			// Fallback to logical size if we can't get actual size
			size = info.Size()
		}
		total += size

		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			return err
		}
		top := "."
		if dir := filepath.Dir(rel); dir != "." {
			top = splitFirst(dir)
		}
		bySource[top] += size
		return nil
	})
	return total, bySource, err
}

func splitFirst(rel string) string {
	for {
		parent := filepath.Dir(rel)
		if parent == "." {
			return rel
		}
		rel = parent
	}
}
