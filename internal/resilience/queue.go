package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrQueueCapacity is returned when the request queue's pending cap is hit.
var ErrQueueCapacity = errors.New("request queue is full")

// QueueConfig configures a request queue.
type QueueConfig struct {
	// MaxConcurrent bounds simultaneously running tasks.
	MaxConcurrent int

	// MaxPending bounds queued tasks waiting for a slot.
	MaxPending int
}

// DefaultQueueConfig returns the default request queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxConcurrent: 4, MaxPending: 128}
}

type queueEntry struct {
	priority int
	seq      uint64
	ready    chan struct{}
}

// RequestQueue serializes work under bounded concurrency with priority
// ordering. Higher priority tasks acquire slots first; FIFO within a
// priority. It dispatches resilient provider streams and any other work
// that must not stampede a backend.
type RequestQueue struct {
	mu      sync.Mutex
	config  QueueConfig
	active  int
	pending []*queueEntry
	seq     uint64
}

// NewRequestQueue creates a request queue.
func NewRequestQueue(config QueueConfig) *RequestQueue {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultQueueConfig().MaxConcurrent
	}
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultQueueConfig().MaxPending
	}
	return &RequestQueue{config: config}
}

// Do runs task once a slot is available, respecting priority order.
// Returns ErrQueueCapacity when the pending cap is exceeded; the caller
// should surface that rather than retry internally.
func (q *RequestQueue) Do(ctx context.Context, priority int, task func(context.Context) error) error {
	if err := q.Acquire(ctx, priority); err != nil {
		return err
	}
	defer q.Release()
	return task(ctx)
}

// Acquire blocks until a slot is available, respecting priority order.
// Every successful Acquire must be paired with Release. Returns
// ErrQueueCapacity when the pending cap is exceeded.
func (q *RequestQueue) Acquire(ctx context.Context, priority int) error {
	q.mu.Lock()
	if q.active < q.config.MaxConcurrent && len(q.pending) == 0 {
		q.active++
		q.mu.Unlock()
		return nil
	}
	if len(q.pending) >= q.config.MaxPending {
		q.mu.Unlock()
		return ErrQueueCapacity
	}
	entry := &queueEntry{priority: priority, seq: q.seq, ready: make(chan struct{})}
	q.seq++
	q.pending = append(q.pending, entry)
	q.mu.Unlock()

	select {
	case <-entry.ready:
		return nil
	case <-ctx.Done():
		q.removePending(entry)
		return ctx.Err()
	}
}

// Release frees a slot and wakes the best pending entry.
func (q *RequestQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	q.dispatch()
}

// dispatch promotes pending entries into free slots. Caller holds the lock.
func (q *RequestQueue) dispatch() {
	for q.active < q.config.MaxConcurrent && len(q.pending) > 0 {
		sort.SliceStable(q.pending, func(i, j int) bool {
			if q.pending[i].priority != q.pending[j].priority {
				return q.pending[i].priority > q.pending[j].priority
			}
			return q.pending[i].seq < q.pending[j].seq
		})
		head := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		close(head.ready)
	}
}

// removePending drops a cancelled entry; if it was already promoted, the
// slot is released.
func (q *RequestQueue) removePending(entry *queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.pending {
		if other == entry {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
	// Already promoted: give the slot back.
	q.active--
	q.dispatch()
}

// Stats reports queue occupancy.
func (q *RequestQueue) Stats() (active, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, len(q.pending)
}
