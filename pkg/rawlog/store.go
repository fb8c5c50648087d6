package rawlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/fsutil"
)

// ErrNoTimestamp is returned when a record cannot be encoded because it has
// no numeric timestamp.
var ErrNoTimestamp = errors.New("record has no numeric timestamp")

// DefaultBackupSuffix is appended to the log path for the copy of the file
// taken just before a rotation replaces it, when Config.KeepBackup is set.
const DefaultBackupSuffix = ".old"

// maxReopen bounds how often WriteBatch chases a file that is being rotated
// underneath it.
const maxReopen = 5

// Config configures a Store.
type Config struct {
	// KeepBackup keeps the pre-rotation file as path+BackupSuffix until the
	// next rotation. The backup is a full copy of the log, so it counts
	// toward disk usage.
	KeepBackup bool

	// BackupSuffix names the pre-rotation backup (path + suffix).
	// Empty uses DefaultBackupSuffix.
	BackupSuffix string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Store reads, appends and rotates raw logs. It holds no per-file state, so
// one Store can serve any number of paths and processes can share files.
type Store struct {
	keepBackup   bool
	backupSuffix string
	now          func() time.Time
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.BackupSuffix == "" {
		cfg.BackupSuffix = DefaultBackupSuffix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{keepBackup: cfg.KeepBackup, backupSuffix: cfg.BackupSuffix, now: cfg.Now}
}

// ReadOptions narrows a Read.
type ReadOptions struct {
	// Since keeps records with timestamp >= Since. Zero keeps everything.
	Since int64

	// Filter, when set, must return true for a record to be kept.
	Filter func(Record) bool

	// Sort orders the result ascending by timestamp. Concurrent writers can
	// leave lines slightly out of order on disk.
	Sort bool
}

// RotateResult reports what a rotation did.
type RotateResult struct {
	Purged int `json:"purged"`
	Kept   int `json:"kept"`
}

// WriteBatch appends records to path as one write under an exclusive lock.
// Parent directories and the file are created as needed. An empty batch is a
// no-op and does not create the file. Records without a timestamp are stamped
// with the current time; the caller's maps are not modified.
func (s *Store) WriteBatch(path string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	now := s.now().Unix()
	for _, r := range records {
		if _, ok := r.Timestamp(); !ok {
			r = r.Clone()
			r[TimestampField] = now
		}
		if err := AppendLine(&buf, r); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	for attempt := 0; attempt < maxReopen; attempt++ {
		done, err := appendLocked(path, buf.Bytes())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("failed to append to %s: file replaced %d times while waiting for lock", path, maxReopen)
}

// appendLocked reports false when path was replaced between open and lock,
// in which case nothing was written and the caller should reopen.
func appendLocked(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := fsutil.Lock(f); err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer fsutil.Unlock(f)

	if !fsutil.SameFile(f, path) {
		return false, nil
	}

	if _, err := f.Write(data); err != nil {
		return false, fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return true, nil
}

// Read returns the records of path that match opts. Malformed lines are
// skipped. A missing file yields no records and no error.
func (s *Store) Read(path string, opts ReadOptions) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := fsutil.RLock(f); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer fsutil.Unlock(f)

	var (
		records []Record
		skipped int
	)
	err = scanLines(f, func(line []byte) {
		if opts.Since > 0 {
			if ts, ok := peekTimestamp(line); ok && ts < opts.Since {
				return
			}
		}
		r, ok := ParseLine(line)
		if !ok {
			if len(bytes.TrimSpace(line)) > 0 {
				skipped++
			}
			return
		}
		if ts, _ := r.Timestamp(); ts < opts.Since {
			return
		}
		if opts.Filter != nil && !opts.Filter(r) {
			return
		}
		records = append(records, r)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if skipped > 0 {
		log.WithField("path", path).Debugf("Skipped %d malformed lines", skipped)
	}

	if opts.Sort {
		SortByTimestamp(records)
	}
	return records, nil
}

// Rotate drops records older than maxAge. Survivors are written to a
// temporary file which replaces path atomically; with KeepBackup the
// pre-rotation file is kept as path+BackupSuffix. Nothing is rewritten when
// no record expired.
// Malformed lines are dropped and counted in neither total.
func (s *Store) Rotate(path string, maxAge time.Duration) (RotateResult, error) {
	var res RotateResult

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := fsutil.Lock(f); err != nil {
		return res, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer fsutil.Unlock(f)

	cutoff := s.now().Add(-maxAge).Unix()
	var kept bytes.Buffer
	malformed := 0
	err = scanLines(f, func(line []byte) {
		r, ok := ParseLine(line)
		if !ok {
			if len(bytes.TrimSpace(line)) > 0 {
				malformed++
			}
			return
		}
		if ts, _ := r.Timestamp(); ts < cutoff {
			res.Purged++
			return
		}
		res.Kept++
		kept.Write(bytes.TrimRight(line, "\r\n"))
		kept.WriteByte('\n')
	})
	if err != nil {
		return RotateResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if res.Purged == 0 && malformed == 0 {
		return res, nil
	}

	if err := s.replace(path, kept.Bytes()); err != nil {
		return RotateResult{}, err
	}

	log.WithFields(log.Fields{
		"path":      path,
		"purged":    res.Purged,
		"kept":      res.Kept,
		"malformed": malformed,
	}).Info("Rotated raw log")
	return res, nil
}

// replace swaps path for a file holding data. The caller holds the lock on
// the current file.
func (s *Store) replace(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}

	if s.keepBackup {
		backup := path + s.backupSuffix
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("Failed to remove old backup %s", backup)
		}
		if err := os.Link(path, backup); err != nil {
			log.WithError(err).Warnf("Failed to back up %s before rotation", path)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

// SortByTimestamp orders records ascending by timestamp, keeping file order
// for equal timestamps.
func SortByTimestamp(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := records[i].Timestamp()
		b, _ := records[j].Timestamp()
		return a < b
	})
}

// scanLines calls fn for every line of r, including a final line without a
// trailing newline. Lines of any length are supported.
func scanLines(r io.Reader, fn func(line []byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			fn(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
