// Package notify delivers in-process "shard changed" signals from writers to
// long pollers.
//
// Signals are hints. A subscriber that misses one still observes the change
// on its next poll of the shard's change counter.
package notify

import "sync"

// Hub fans out change signals per shard.
//
// Each subscription owns a channel with a buffer of one; Notify never blocks
// and coalesces bursts into a single pending signal.
//
// Thread-safety: Hub is safe for concurrent use. A nil *Hub is valid and
// drops every signal.
type Hub struct {
	mu   sync.Mutex
	subs map[int]map[chan struct{}]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]map[chan struct{}]struct{})}
}

// Subscribe registers interest in a shard. The returned cancel function must be
// called to release the subscription; it is safe to call more than once.
func (h *Hub) Subscribe(shard int) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	if h == nil {
		return ch, func() {}
	}

	h.mu.Lock()
	set, ok := h.subs[shard]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[shard] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[shard], ch)
			if len(h.subs[shard]) == 0 {
				delete(h.subs, shard)
			}
		})
	}
	return ch, cancel
}

// Notify signals every subscriber of shard.
func (h *Hub) Notify(shard int) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[shard] {
		// Non-blocking: buffer of 1 coalesces multiple signals
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions for shard.
func (h *Hub) Subscribers(shard int) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[shard])
}
