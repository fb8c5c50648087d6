package storage

import (
	"context"
)

// TierState is the checkpoint of one tier. All fields are Unix epoch seconds.
type TierState struct {
	LastProcessed int64 `json:"last_processed"`
	LastBucketEnd int64 `json:"last_bucket_end"`
	LastRollup    int64 `json:"last_rollup"`
}

// IsZero reports whether the tier has never been processed.
func (t TierState) IsZero() bool {
	return t == TierState{}
}

// State maps tier name to checkpoint.
type State map[string]TierState

// Tier returns the checkpoint for name, all zeros when absent.
func (s State) Tier(name string) TierState {
	return s[name]
}

// Set records the checkpoint for name.
func (s State) Set(name string, ts TierState) {
	s[name] = ts
}

// Reset forgets name; its next run starts from the beginning of the raw log.
func (s State) Reset(name string) {
	delete(s, name)
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Checkpoints persists the State of one source.
type Checkpoints interface {
	// Load returns the saved state. A source that was never saved yields an
	// empty State and no error.
	Load(ctx context.Context) (State, error)

	// Save replaces the saved state.
	Save(ctx context.Context, state State) error
}

// Backend provides the Checkpoints of each source.
type Backend interface {
	Checkpoints(source string) Checkpoints

	// Close releases backend resources.
	Close() error
}
