package reader

import (
	"context"
	"fmt"
	"time"
)

// ChangeSeq returns the shard's current change counter. Pass it to Longpoll
// after reading a page.
func (r *Reader) ChangeSeq(ctx context.Context, shard int) (int64, error) {
	seq, err := r.store.ChangeSeq(ctx, shard)
	if err != nil {
		return 0, fmt.Errorf("longpoll shard %d: %w", shard, err)
	}
	return seq, nil
}

// Longpoll blocks until the shard's change counter differs from seen, the
// timeout elapses, or ctx is done, and returns the latest counter.
//
// A return never guarantees new data for the caller's cursor: the change may be
// a staged entry, or a backfill that sorts before the cursor. Callers re-read
// after every return. A non-positive timeout checks once without waiting.
func (r *Reader) Longpoll(ctx context.Context, shard int, seen int64, timeout time.Duration) (int64, error) {
	signal, cancel := r.hub.Subscribe(shard)
	defer cancel()

	cur, err := r.ChangeSeq(ctx, shard)
	if err != nil || cur != seen || timeout <= 0 {
		return cur, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-timer.C:
			return r.ChangeSeq(ctx, shard)
		case <-signal:
		case <-ticker.C:
		}

		cur, err = r.ChangeSeq(ctx, shard)
		if err != nil || cur != seen {
			return cur, err
		}
	}
}
