package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by checkpoints of a closed lazy backend.
var ErrClosed = errors.New("checkpoint backend closed")

// Lazy returns a Backend that calls open on the first Load or Save and
// delegates to its result afterwards. Processes that never touch
// checkpoints, such as read-only queries, never open the real backend and so
// never contend for its locks. A failed open is retried on the next call.
func Lazy(open func() (Backend, error)) Backend {
	return &lazyBackend{open: open}
}

type lazyBackend struct {
	open func() (Backend, error)

	mu      sync.Mutex
	backend Backend
	closed  bool
}

func (l *lazyBackend) get() (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.backend == nil {
		b, err := l.open()
		if err != nil {
			return nil, err
		}
		l.backend = b
	}
	return l.backend, nil
}

// Opened reports whether b is a lazy backend whose real backend has been
// opened. Other backends always report true.
func Opened(b Backend) bool {
	l, ok := b.(*lazyBackend)
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend != nil
}

func (l *lazyBackend) Checkpoints(source string) Checkpoints {
	return &lazyCheckpoints{parent: l, source: source}
}

func (l *lazyBackend) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.backend == nil {
		return nil
	}
	return l.backend.Close()
}

type lazyCheckpoints struct {
	parent *lazyBackend
	source string
}

func (c *lazyCheckpoints) Load(ctx context.Context) (State, error) {
	b, err := c.parent.get()
	if err != nil {
		return nil, err
	}
	return b.Checkpoints(c.source).Load(ctx)
}

func (c *lazyCheckpoints) Save(ctx context.Context, state State) error {
	b, err := c.parent.get()
	if err != nil {
		return err
	}
	return b.Checkpoints(c.source).Save(ctx, state)
}
