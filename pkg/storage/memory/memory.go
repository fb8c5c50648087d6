// Package memory keeps rollup checkpoints in memory. Data is lost on restart.
// Useful for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/nicktill/tinywatch/pkg/storage"
)

// Store holds the checkpoints of one source.
type Store struct {
	mu    sync.RWMutex
	state storage.State
	saves int

	// SaveErr, when set, is returned by Save without storing anything.
	SaveErr error
	// LoadErr, when set, is returned by Load.
	LoadErr error
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: storage.State{}}
}

// Load returns a copy of the stored state.
func (s *Store) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return s.state.Clone(), nil
}

// Save stores a copy of state.
func (s *Store) Save(ctx context.Context, state storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.state = state.Clone()
	s.saves++
	return nil
}

// Saves counts successful saves.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Backend hands out one Store per source.
type Backend struct {
	mu      sync.Mutex
	sources map[string]*Store
}

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{sources: make(map[string]*Store)}
}

// Checkpoints returns the Store of source, creating it on first use.
func (b *Backend) Checkpoints(source string) storage.Checkpoints {
	return b.Store(source)
}

// Store is Checkpoints with the concrete type, for tests that inspect it.
func (b *Backend) Store(source string) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sources[source]
	if !ok {
		s = New()
		b.sources[source] = s
	}
	return s
}

// Close is a no-op for memory storage
func (b *Backend) Close() error {
	return nil
}
