package market

import "tradegate/internal/model"

// tickRing is a fixed-size buffer of the most recent ticks for one
// symbol. Owned by a single shard worker; no internal locking.
type tickRing struct {
	buf  []model.Tick
	head int
	size int
}

func newTickRing(capacity int) *tickRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &tickRing{buf: make([]model.Tick, capacity)}
}

func (r *tickRing) push(tick model.Tick) {
	r.buf[r.head] = tick
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// recent returns up to n ticks, newest first.
func (r *tickRing) recent(n int) []model.Tick {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]model.Tick, 0, n)
	idx := r.head
	for range n {
		idx--
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		out = append(out, r.buf[idx])
	}
	return out
}
