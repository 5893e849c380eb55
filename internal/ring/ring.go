// Package ring provides a bounded FIFO buffer over fixed backing storage.
// It backs every "last N" surface in the runtime: channel history, dispatcher
// results, and execution logs.
package ring

// Ring is a fixed-capacity FIFO that drops the oldest element on overflow.
// It is not safe for concurrent use; callers serialize access.
type Ring[T any] struct {
	items []T
	head  int
	count int
}

// New creates a ring with the given capacity. Capacity below 1 is clamped to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest when full. Constant time.
func (r *Ring[T]) Push(item T) {
	idx := (r.head + r.count) % len(r.items)
	r.items[idx] = item
	if r.count < len(r.items) {
		r.count++
		return
	}
	r.head = (r.head + 1) % len(r.items)
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Items returns up to limit items, newest first. limit <= 0 returns all.
func (r *Ring[T]) Items(limit int) []T {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head + r.count - 1 - i) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

// Oldest returns all items oldest first.
func (r *Ring[T]) Oldest() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}

// Filter removes every item for which keep returns false, preserving order.
// Returns the number of removed items.
func (r *Ring[T]) Filter(keep func(T) bool) int {
	kept := make([]T, 0, r.count)
	for _, item := range r.Oldest() {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	removed := r.count - len(kept)
	r.head = 0
	r.count = len(kept)
	copy(r.items, kept)
	return removed
}
