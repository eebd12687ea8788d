package gpws

import "github.com/wdc-gp/gustlink"

// ring is a bounded FIFO of messages. When full, pushing evicts the oldest
// entry. Not safe for concurrent use; the owning Connection serializes
// access.
type ring struct {
	items []gustlink.Message
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{items: make([]gustlink.Message, capacity)}
}

func (r *ring) push(m gustlink.Message) {
	r.items[r.next] = m
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) size() int {
	if r.full {
		return len(r.items)
	}
	return r.next
}

// recent returns up to limit matching messages, oldest first. An empty
// category matches everything. The returned slice is freshly allocated.
func (r *ring) recent(limit int, category gustlink.Category) []gustlink.Message {
	n := r.size()
	if limit <= 0 || n == 0 {
		return nil
	}

	// Walk in insertion order, collect matches.
	start := 0
	if r.full {
		start = r.next
	}
	matched := make([]gustlink.Message, 0, n)
	for i := 0; i < n; i++ {
		m := r.items[(start+i)%len(r.items)]
		if category != "" && m.Category != category {
			continue
		}
		matched = append(matched, m)
	}

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
