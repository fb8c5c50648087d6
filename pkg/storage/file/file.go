// Package file stores rollup checkpoints as a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/fsutil"
	"github.com/nicktill/tinywatch/pkg/storage"
)

// StateFileName is the checkpoint document inside a source directory.
const StateFileName = "rollup-state.json"

// Store is the checkpoint document of one source.
type Store struct {
	path string
}

// New returns a Store backed by the JSON document at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path is the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing file is an empty state. A document that
// does not parse, or a tier entry that does not, loads as zero state for what
// is affected and is logged.
func (s *Store) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := storage.State{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read checkpoints %s: %w", s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.WithError(err).WithField("path", s.path).Warn("Corrupted checkpoint document, rebuilding every tier from scratch")
		return state, nil
	}

	for name, msg := range raw {
		var ts storage.TierState
		if err := json.Unmarshal(msg, &ts); err != nil {
			log.WithError(err).WithFields(log.Fields{"path": s.path, "tier": name}).
				Warn("Corrupted checkpoint entry, tier will be rebuilt")
			continue
		}
		state.Set(name, ts)
	}
	return state, nil
}

// Save replaces the document atomically.
func (s *Store) Save(ctx context.Context, state storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		state = storage.State{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoints: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save checkpoints: %w", err)
	}
	return nil
}

// Backend keeps each source's document at <root>/<source>/rollup-state.json.
type Backend struct {
	root string
}

// NewBackend returns a Backend rooted at root.
func NewBackend(root string) *Backend {
	return &Backend{root: root}
}

// Checkpoints returns the document Store of source.
func (b *Backend) Checkpoints(source string) storage.Checkpoints {
	return New(filepath.Join(b.root, source, StateFileName))
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}
