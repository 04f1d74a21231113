package relay

import "time"

type queued struct {
	id     string
	method string
	frame  []byte
	at     time.Time
}

// queue is a bounded FIFO. Push evicts the oldest entry when full.
type queue struct {
	capacity int
	items    []queued
}

func newQueue(capacity int) *queue {
	return &queue{capacity: capacity}
}

// push appends q and returns the evicted entry, if any.
func (b *queue) push(q queued) (queued, bool) {
	var evicted queued
	full := len(b.items) >= b.capacity
	if full {
		evicted = b.items[0]
		b.items = b.items[1:]
	}
	b.items = append(b.items, q)
	return evicted, full
}

// drain empties the queue, returning entries not older than maxAge and
// the number discarded.
func (b *queue) drain(now time.Time, maxAge time.Duration) ([]queued, int) {
	items := b.items
	b.items = nil

	fresh := items[:0:0]
	stale := 0
	for _, q := range items {
		if now.Sub(q.at) > maxAge {
			stale++
			continue
		}
		fresh = append(fresh, q)
	}
	return fresh, stale
}

func (b *queue) snapshot() []queued {
	return append([]queued(nil), b.items...)
}

func (b *queue) len() int {
	return len(b.items)
}
