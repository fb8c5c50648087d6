package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinywatch/pkg/storage"
)

func TestMemoryStore_CopiesOnLoadAndSave(t *testing.T) {
	ctx := context.Background()
	s := New()

	state := storage.State{"1min": {LastProcessed: 5}}
	require.NoError(t, s.Save(ctx, state))
	state.Set("1min", storage.TierState{LastProcessed: 99})

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Tier("1min").LastProcessed, "saved state is not aliased")

	got.Reset("1min")
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.Tier("1min").LastProcessed, "loaded state is not aliased")
	assert.Equal(t, 1, s.Saves())
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SaveErr = errors.New("disk full")

	assert.ErrorIs(t, s.Save(ctx, storage.State{}), s.SaveErr)
	assert.Equal(t, 0, s.Saves())
}

func TestMemoryBackend_SameStorePerSource(t *testing.T) {
	b := NewBackend()
	assert.Same(t, b.Store("ping"), b.Store("ping"))
	assert.NotSame(t, b.Store("ping"), b.Store("system"))
}

var _ storage.Backend = (*Backend)(nil)
