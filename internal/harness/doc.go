// Package harness runs changefeed scenarios as executable contract tests.
//
// A scenario names events, then stages, promotes, backfills and reads them
// through the real store, engine and reader. Each step may carry an expect
// clause, and the final feed and outbox can be checked with assertions.
//
// # Scenario Format
//
//	name: backfill_then_live
//	description: "History imported after live traffic still reads first"
//	events:
//	  old0: { aggregate: 1, sequence: 0 }
//	  live0: { aggregate: 2, sequence: 0 }
//	steps:
//	  - stage: { shard: 0, event: live0 }
//	  - backfill:
//	      shard: 0
//	      events:
//	        - { event: old0, instant: "2023-06-01T00:00:00Z" }
//	  - promote: { shard: 0, limit: 10 }
//	    expect: { promoted: 1 }
//	  - read: { shard: 0, page_size: 10, cursor: start }
//	    expect: { events: [old0, live0] }
//	assertions:
//	  - type: feed_order
//	    shard: 0
//	    events: [old0, live0]
//
// # Assertion Types
//
//   - feed_order: the whole feed of a shard, in position order
//   - feed_count: number of feed entries in a shard
//   - outbox_count: number of staged entries still waiting in a shard
//
// # Deterministic Testing
//
// Every run uses a fresh database and a clock that starts at testutil.Epoch
// and advances one millisecond per reading. Live positions therefore sort in
// the order they were minted, and traces record labels rather than raw
// positions, so the same scenario always yields the same trace.
package harness
