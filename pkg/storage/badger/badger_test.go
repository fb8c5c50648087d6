package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinywatch/pkg/storage"
)

func TestBadgerCheckpoints_SaveAndLoad(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cp := store.Checkpoints("ping")

	state, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state, "never-saved source is empty")

	want := storage.State{
		"1min": {LastProcessed: 100, LastBucketEnd: 60, LastRollup: 200},
		"5min": {LastProcessed: 90, LastBucketEnd: 0, LastRollup: 200},
	}
	require.NoError(t, cp.Save(ctx, want))

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBadgerCheckpoints_SourcesAreIsolated(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Checkpoints("ping").Save(ctx, storage.State{"1min": {LastProcessed: 1}}))
	require.NoError(t, store.Checkpoints("system").Save(ctx, storage.State{"1min": {LastProcessed: 2}}))

	ping, err := store.Checkpoints("ping").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ping.Tier("1min").LastProcessed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, 2, stats.Entries)
}

func TestBadgerCheckpoints_SaveOverwritesWholeDocument(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cp := store.Checkpoints("ping")
	require.NoError(t, cp.Save(ctx, storage.State{"1min": {LastProcessed: 1}, "5min": {LastProcessed: 2}}))

	state, err := cp.Load(ctx)
	require.NoError(t, err)
	state.Reset("5min")
	require.NoError(t, cp.Save(ctx, state))

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.State{"1min": {LastProcessed: 1}}, got)
}

func TestBadgerCheckpoints_CorruptedEntrySkipped(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cp := store.Checkpoints("ping")
	require.NoError(t, cp.Save(ctx, storage.State{"5min": {LastProcessed: 7}}))

	prefix := sourcePrefix("ping")
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(prefix, "1min"), []byte("{not json"))
	}))

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Tier("1min").IsZero())
	assert.Equal(t, int64(7), got.Tier("5min").LastProcessed)
}

func TestBadgerCheckpoints_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)
		require.NoError(t, store.Checkpoints("ping").Save(ctx, storage.State{"2hour": {LastBucketEnd: 7200}}))
		require.NoError(t, store.Close())
	}

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Checkpoints("ping").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), got.Tier("2hour").LastBucketEnd)
}

func TestBadgerCheckpoints_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Checkpoints("ping").Save(ctx, storage.State{})
	assert.ErrorIs(t, err, context.Canceled)
}

var _ storage.Backend = (*Storage)(nil)

func TestNew_SmallMemoryBudgets(t *testing.T) {
	for _, mb := range []int64{1, 8, 16, 20, 32} {
		store, err := New(Config{Path: t.TempDir(), MaxMemoryMB: mb})
		require.NoError(t, err, "MaxMemoryMB=%d", mb)

		cp := store.Checkpoints("ping")
		want := storage.State{"1min": {LastProcessed: 100, LastBucketEnd: 60, LastRollup: 120}}
		require.NoError(t, cp.Save(context.Background(), want))
		got, err := cp.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)

		require.NoError(t, store.Close())
	}
}
