/*
Package storage holds the rollup checkpoints: one TierState per tier per
source, recording how far the raw log has been folded into that tier.

# Checkpoint document

A source's state is one document keyed by tier name:

	{
	  "1min": {"last_processed": 1714564740, "last_bucket_end": 1714564680, "last_rollup": 1714564800},
	  "5min": {"last_processed": 1714564499, "last_bucket_end": 1714564500, "last_rollup": 1714564800}
	}

  - last_processed: timestamp of the newest raw record folded into a rollup
  - last_bucket_end: end of the most recently closed bucket
  - last_rollup: wall-clock time of the tier's last run, used for throttling

A tier missing from the document reads as all zeros, meaning "never
processed". State.Tier does that synthesis so callers never check for
presence.

# Backends

All backends implement Checkpoints:

	type Checkpoints interface {
	    Load(ctx context.Context) (State, error)
	    Save(ctx context.Context, state State) error
	}

  - file: a pretty-printed JSON file per source, replaced atomically on save
    (the default; easy to inspect and hand-edit)
  - badger: every source in one BadgerDB, keyed by source hash and tier
  - memory: for tests

A Backend hands out the Checkpoints of each source:

	backend := file.NewBackend("/var/lib/watcher")
	cp := backend.Checkpoints("ping")
	state, err := cp.Load(ctx)

A damaged document, or a damaged tier entry inside it, loads as zero state for
the affected tiers only. That tier re-scans the raw log from the start; the
others are unaffected.

Save has overwrite semantics: callers load, modify and save the whole State.
The rollup processor is the only writer of a source's checkpoints.
*/
package storage
