package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
)

// ErrQueueFull is returned when the bucket's wait queue is at capacity.
var ErrQueueFull = errors.New("rate limiter wait queue is full")

// BucketConfig configures a token bucket.
type BucketConfig struct {
	// Capacity is the maximum token balance.
	Capacity float64

	// RefillPerSecond is the steady refill rate.
	RefillPerSecond float64

	// MaxWaiters bounds the priority wait queue. 0 uses a default of 256.
	MaxWaiters int
}

// DefaultBucketConfig returns the default token bucket configuration.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{
		Capacity:        20,
		RefillPerSecond: 10,
		MaxWaiters:      256,
	}
}

type bucketWaiter struct {
	n        float64
	priority int
	seq      uint64
	ready    chan struct{}
	granted  bool
}

// TokenBucket is a token-bucket rate limiter with a priority-ordered wait
// queue. Acquire suspends until tokens are available; higher priority waiters
// are served first, FIFO within a priority.
type TokenBucket struct {
	mu      sync.Mutex
	tokens  float64
	config  BucketConfig
	clock   clockwork.Clock
	last    time.Time
	waiters []*bucketWaiter
	seq     uint64
}

// NewTokenBucket creates a token bucket. A nil clock uses the system clock.
func NewTokenBucket(config BucketConfig, clock clockwork.Clock) *TokenBucket {
	if config.Capacity <= 0 {
		config.Capacity = DefaultBucketConfig().Capacity
	}
	if config.RefillPerSecond <= 0 {
		config.RefillPerSecond = DefaultBucketConfig().RefillPerSecond
	}
	if config.MaxWaiters <= 0 {
		config.MaxWaiters = DefaultBucketConfig().MaxWaiters
	}
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &TokenBucket{
		tokens: config.Capacity,
		config: config,
		clock:  clock,
		last:   clock.Now(),
	}
}

// refill credits tokens for elapsed time. Caller holds the lock.
func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.config.RefillPerSecond
	if b.tokens > b.config.Capacity {
		b.tokens = b.config.Capacity
	}
}

// pump grants tokens to the best waiter(s). Caller holds the lock.
func (b *TokenBucket) pump() {
	b.refill()
	for len(b.waiters) > 0 {
		// Highest priority first; FIFO within a priority.
		sort.SliceStable(b.waiters, func(i, j int) bool {
			if b.waiters[i].priority != b.waiters[j].priority {
				return b.waiters[i].priority > b.waiters[j].priority
			}
			return b.waiters[i].seq < b.waiters[j].seq
		})
		head := b.waiters[0]
		if b.tokens < head.n {
			return
		}
		b.tokens -= head.n
		head.granted = true
		close(head.ready)
		b.waiters = b.waiters[1:]
	}
}

// TryAcquire attempts to take n tokens without waiting.
func (b *TokenBucket) TryAcquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if len(b.waiters) == 0 && b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Acquire takes n tokens, suspending until available. Waiters are served in
// priority order. Returns ErrQueueFull when the wait queue is at capacity.
func (b *TokenBucket) Acquire(ctx context.Context, n float64, priority int) error {
	if n <= 0 {
		return nil
	}

	b.mu.Lock()
	b.refill()
	if len(b.waiters) == 0 && b.tokens >= n {
		b.tokens -= n
		b.mu.Unlock()
		return nil
	}
	if len(b.waiters) >= b.config.MaxWaiters {
		b.mu.Unlock()
		return ErrQueueFull
	}

	w := &bucketWaiter{n: n, priority: priority, seq: b.seq, ready: make(chan struct{})}
	b.seq++
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	for {
		b.mu.Lock()
		b.pump()
		wait := b.waitHint(n)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-w.ready:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			b.remove(w)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// waitHint estimates time until n tokens accrue. Caller holds the lock.
func (b *TokenBucket) waitHint(n float64) time.Duration {
	deficit := n - b.tokens
	if deficit <= 0 {
		return time.Millisecond
	}
	seconds := deficit / b.config.RefillPerSecond
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// remove drops a cancelled waiter, returning its tokens if already granted.
func (b *TokenBucket) remove(w *bucketWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w.granted {
		// Grant raced with cancellation; return the tokens.
		b.tokens += w.n
		b.pump()
		return
	}
	for i, other := range b.waiters {
		if other == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Tokens returns the current token balance.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Waiting returns the current wait-queue depth.
func (b *TokenBucket) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
