// Package engine moves entries into a shard's feed.
//
// Two write paths converge on the feed:
//
// Promotion (Promoter): staged outbox rows are assigned a position minted from
// the current instant and appended to the feed. Positions never sort at or
// below the shard's current head, so every live append lands after everything
// a reader has already seen.
//
// Backfill (Backfiller): historical events are inserted directly with a
// position minted from their original instant, so they sort before anything
// minted afterwards.
//
// Both paths insert through the store's (shard, aggregate, sequence) guard.
// An entry that already reached the feed by the other path is skipped, never
// duplicated. Each batch is a single transaction, so a crash mid-batch leaves
// either the whole batch or none of it, and rerunning it is harmless.
//
// Runner drives promotion in the background on a fixed interval.
package engine
