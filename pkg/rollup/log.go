package rollup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/fsutil"
	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// encodeRows renders rows as bare JSON lines.
func encodeRows(rows []rawlog.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rollup row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// gzipBytes compresses data as one gzip member.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// appendRows appends rows to the rollup log at path under an exclusive lock.
// For compressed logs the rows become one new gzip member.
func appendRows(path string, compressed bool, rows []rawlog.Record) error {
	if len(rows) == 0 {
		return nil
	}

	data, err := encodeRows(rows)
	if err != nil {
		return err
	}
	if compressed {
		if data, err = gzipBytes(data); err != nil {
			return fmt.Errorf("failed to compress rollup rows: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create rollup directory: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open rollup log: %w", err)
		}
		if err := fsutil.Lock(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to lock rollup log: %w", err)
		}
		if !fsutil.SameFile(f, path) {
			fsutil.Unlock(f)
			f.Close()
			continue
		}
		_, err = f.Write(data)
		fsutil.Unlock(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to append rollup rows: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to append to %s: file kept being replaced", path)
}

// readRows decodes every row of a rollup log. A missing file is returned as
// an error satisfying os.IsNotExist. Malformed lines are skipped; a gzip
// stream cut short by a crash yields the rows decoded before the damage.
func readRows(path string, compressed bool) ([]rawlog.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := fsutil.RLock(f); err != nil {
		return nil, fmt.Errorf("failed to lock rollup log: %w", err)
	}
	defer fsutil.Unlock(f)

	return decodeAll(f, compressed)
}

// pruneRows drops rows older than cutoff once the log at path exceeds
// threshold bytes. It returns the number of rows removed.
func pruneRows(path string, compressed bool, cutoff int64, threshold int64) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat rollup log: %w", err)
	}
	if fi.Size() <= threshold {
		return 0, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open rollup log: %w", err)
	}
	defer f.Close()

	// Appenders block on this lock and reopen once the file is replaced.
	if err := fsutil.Lock(f); err != nil {
		return 0, fmt.Errorf("failed to lock rollup log: %w", err)
	}
	defer fsutil.Unlock(f)

	rows, err := decodeAll(f, compressed)
	if err != nil {
		return 0, err
	}

	kept := rows[:0]
	for _, row := range rows {
		if ts, _ := row.Timestamp(); ts >= cutoff {
			kept = append(kept, row)
		}
	}
	purged := len(rows) - len(kept)
	if purged == 0 {
		return 0, nil
	}

	data, err := encodeRows(kept)
	if err != nil {
		return 0, err
	}
	if compressed {
		if data, err = gzipBytes(data); err != nil {
			return 0, fmt.Errorf("failed to compress rollup log: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return 0, err
	}
	return purged, nil
}

// decodeAll reads rows from an open, locked log.
func decodeAll(f *os.File, compressed bool) ([]rawlog.Record, error) {
	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed rollup log: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		if !compressed || !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read rollup log: %w", err)
		}
		log.WithError(err).WithField("path", f.Name()).Warn("Compressed rollup log is truncated, keeping readable rows")
	}

	var rows []rawlog.Record
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if row, ok := rawlog.ParseLine(line); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}
