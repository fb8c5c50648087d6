/*
Package rollup incrementally downsamples a raw log into fixed-interval tiers.

# How it works

Each run of a tier:

 1. loads the tier's checkpoint (storage.TierState)
 2. skips the tier if it ran less than one interval ago (unless forced)
 3. reads raw records with timestamp >= last_processed
 4. groups them into epoch-aligned buckets: start = floor(ts/interval)*interval
 5. aggregates every closed bucket, oldest first, through the Aggregator
 6. appends the resulting rows to the tier's rollup log
 7. advances and saves the checkpoint

A bucket is closed once end + SafetyMargin <= now. Open buckets are left for a
later run, so a rollup row never has to be rewritten because a sample arrived
late. Buckets ending at or before last_bucket_end are never revisited;
samples that arrive for them after the fact are ignored.

The checkpoint arithmetic lives in Step, a pure function with the TierState
passed in and returned. ProcessTier wraps it with the I/O.

# Rollup logs

One log per tier, one JSON object per line, bucket midpoints ascending.
Compressed tiers append a gzip member per run; readers decode the
concatenation. Logs are pruned past the tier's retention once they grow
beyond a size threshold, by rewriting the survivors to a temporary file and
renaming it into place.

# Example

	p := rollup.New(rollup.Config{})
	job := rollup.Job{
	    Source:      "ping",
	    RawPath:     "/var/lib/watcher/ping/raw.log",
	    Checkpoints: file.New("/var/lib/watcher/ping/rollup-state.json"),
	    RollupPath:  func(t tier.Tier) string { return tier.RollupPath("/var/lib/watcher/ping", t) },
	    Aggregator:  aggregate.Ping(),
	}
	results, err := p.ProcessAll(ctx, job, rollup.ProcessOptions{})
*/
package rollup
