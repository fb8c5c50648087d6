package collect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// Sink persists a batch of records for a source. *pipeline.Pipeline is a
// Sink.
type Sink interface {
	Write(ctx context.Context, source string, records []rawlog.Record) error
}

// Config holds configuration for the batcher
type Config struct {
	// Source the records belong to.
	Source string

	// MaxBatchSize triggers an early flush when reached.
	MaxBatchSize int

	// FlushEvery is the periodic flush interval.
	FlushEvery time.Duration

	// WriteTimeout bounds one flush.
	WriteTimeout time.Duration
}

// Batcher buffers records for one source and flushes them periodically.
// A failed flush drops its batch; the next tick starts fresh.
type Batcher struct {
	config Config
	sink   Sink

	records []rawlog.Record
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // only one flush in flight
	flushWG  sync.WaitGroup
	dropped  atomic.Uint64
}

// New creates a new batcher
func New(sink Sink, config Config) *Batcher {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 500
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	return &Batcher{
		config:  config,
		sink:    sink,
		records: make([]rawlog.Record, 0, config.MaxBatchSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
	}
}

// Start starts the periodic flush loop.
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add buffers a record.
// CRITICAL: Uses atomic flag to prevent unbounded goroutine spawning under high load
func (b *Batcher) Add(r rawlog.Record) {
	b.mu.Lock()
	b.records = append(b.records, r)
	shouldFlush := len(b.records) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.flushWG.Add(1)
		go func() {
			defer b.flushWG.Done()
			b.Flush()
			b.flushing.Store(false)
		}()
	}
}

// Pending is the number of buffered records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Dropped counts records lost to failed flushes.
func (b *Batcher) Dropped() uint64 {
	return b.dropped.Load()
}

// Flush writes all buffered records as one batch.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if len(b.records) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]rawlog.Record, len(b.records))
	copy(batch, b.records)
	b.records = b.records[:0]
	b.mu.Unlock()

	// Detached from b.ctx so the final flush in Stop still runs.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), b.config.WriteTimeout)
	defer cancel()

	if err := b.sink.Write(ctx, b.config.Source, batch); err != nil {
		b.dropped.Add(uint64(len(batch)))
		log.WithError(err).WithField("source", b.config.Source).
			Warnf("Dropped batch of %d samples", len(batch))
		return err
	}
	return nil
}

// Stop stops the flush loop and flushes what is left.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.flushWG.Wait()
	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.Flush()
				b.flushing.Store(false)
			}
		}
	}
}
